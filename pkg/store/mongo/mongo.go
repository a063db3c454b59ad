// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package mongo provides the MongoDB-backed metadata store. The critical
// section maps directly to a conditional UpdateOne: the filter carries a
// $ne predicate on the flag and the update $sets the flag and $incs the
// sequence counter in one atomic document update.
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taleverse/talefs/pkg/errtypes"
	"github.com/taleverse/talefs/pkg/store"
	"github.com/taleverse/talefs/pkg/store/registry"
	"github.com/taleverse/talefs/pkg/utils/cfg"
)

func init() {
	registry.Register("mongo", New)
}

type config struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

func (c *config) ApplyDefaults() {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "talefs"
	}
}

type mstore struct {
	folders *mongo.Collection
	tales   *mongo.Collection
}

// New connects to MongoDB and returns a store over the configured
// database. An index on the folder created field backs the
// "latest version" query.
func New(m map[string]interface{}) (store.Store, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo: error connecting to "+c.URI)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "mongo: error pinging "+c.URI)
	}

	db := client.Database(c.Database)
	s := &mstore{
		folders: db.Collection("folders"),
		tales:   db.Collection("tales"),
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created", Value: 1}}},
		{Keys: bson.D{{Key: "parentId", Value: 1}, {Key: "name", Value: 1}}},
	}
	if _, err := s.folders.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, errors.Wrap(err, "mongo: error ensuring indexes")
	}

	return s, nil
}

func (s *mstore) NewID() string {
	return primitive.NewObjectID().Hex()
}

func (s *mstore) Folder(ctx context.Context, id string) (*store.Folder, error) {
	var f store.Folder
	err := s.folders.FindOne(ctx, bson.M{"_id": id}).Decode(&f)
	switch {
	case err == mongo.ErrNoDocuments:
		return nil, errtypes.NotFound("folder " + id)
	case err != nil:
		return nil, errors.Wrap(err, "mongo: error loading folder "+id)
	}
	return &f, nil
}

func (s *mstore) FindFolder(ctx context.Context, parentID, name string) (*store.Folder, error) {
	var f store.Folder
	err := s.folders.FindOne(ctx, bson.M{"parentId": parentID, "name": name}).Decode(&f)
	switch {
	case err == mongo.ErrNoDocuments:
		return nil, errtypes.NotFound("folder " + name + " below " + parentID)
	case err != nil:
		return nil, errors.Wrap(err, "mongo: error finding folder "+name)
	}
	return &f, nil
}

func (s *mstore) ChildFolders(ctx context.Context, parentID string, opts store.ListOptions) ([]*store.Folder, error) {
	field := opts.Sort
	if field == "" {
		field = "created"
	}
	order := 1
	if opts.Order == store.Descending {
		order = -1
	}

	fopts := options.Find().SetSort(bson.D{{Key: field, Value: order}})
	if opts.Offset > 0 {
		fopts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		fopts.SetLimit(int64(opts.Limit))
	}

	cur, err := s.folders.Find(ctx, bson.M{"parentId": parentID}, fopts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo: error listing children of "+parentID)
	}
	defer cur.Close(ctx)

	children := []*store.Folder{}
	for cur.Next(ctx) {
		var f store.Folder
		if err := cur.Decode(&f); err != nil {
			return nil, errors.Wrap(err, "mongo: error decoding folder")
		}
		children = append(children, &f)
	}
	return children, errors.Wrap(cur.Err(), "mongo: error iterating children")
}

func (s *mstore) FoldersByStatus(ctx context.Context, statuses ...int) ([]*store.Folder, error) {
	filter := bson.M{
		"status":       bson.M{"$in": statuses},
		"runVersionId": bson.M{"$exists": true},
	}
	cur, err := s.folders.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "mongo: error finding folders by status")
	}
	defer cur.Close(ctx)

	matches := []*store.Folder{}
	for cur.Next(ctx) {
		var f store.Folder
		if err := cur.Decode(&f); err != nil {
			return nil, errors.Wrap(err, "mongo: error decoding folder")
		}
		matches = append(matches, &f)
	}
	return matches, errors.Wrap(cur.Err(), "mongo: error iterating folders")
}

func (s *mstore) SaveFolder(ctx context.Context, f *store.Folder) error {
	if f.ID == "" {
		return errtypes.BadRequest("folder has no id")
	}
	now := time.Now()
	if f.Created.IsZero() {
		f.Created = now
	}
	if f.Updated.IsZero() {
		f.Updated = now
	}
	_, err := s.folders.ReplaceOne(ctx, bson.M{"_id": f.ID}, f, options.Replace().SetUpsert(true))
	return errors.Wrap(err, "mongo: error saving folder "+f.ID)
}

func (s *mstore) RemoveFolder(ctx context.Context, id string) error {
	res, err := s.folders.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "mongo: error removing folder "+id)
	}
	if res.DeletedCount == 0 {
		return errtypes.NotFound("folder " + id)
	}
	return nil
}

func (s *mstore) TouchFolder(ctx context.Context, id string) error {
	res, err := s.folders.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"updated": time.Now()}},
	)
	if err != nil {
		return errors.Wrap(err, "mongo: error touching folder "+id)
	}
	if res.MatchedCount == 0 {
		return errtypes.NotFound("folder " + id)
	}
	return nil
}

func (s *mstore) SetCriticalSection(ctx context.Context, rootID string, value bool) (bool, error) {
	res, err := s.folders.UpdateOne(ctx,
		bson.M{"_id": rootID, "criticalSection": bson.M{"$ne": value}},
		bson.M{
			"$set": bson.M{"criticalSection": value},
			"$inc": bson.M{"seq": 1},
		},
	)
	if err != nil {
		return false, errors.Wrap(err, "mongo: error updating critical section of "+rootID)
	}
	return res.MatchedCount > 0, nil
}

func (s *mstore) ResetCriticalSections(ctx context.Context) (int, error) {
	res, err := s.folders.UpdateMany(ctx,
		bson.M{"criticalSection": true},
		bson.M{"$set": bson.M{"criticalSection": false}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "mongo: error resetting critical sections")
	}
	return int(res.ModifiedCount), nil
}

func (s *mstore) Tale(ctx context.Context, id string) (*store.Tale, error) {
	var t store.Tale
	err := s.tales.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	switch {
	case err == mongo.ErrNoDocuments:
		return nil, errtypes.NotFound("tale " + id)
	case err != nil:
		return nil, errors.Wrap(err, "mongo: error loading tale "+id)
	}
	return &t, nil
}

func (s *mstore) SaveTale(ctx context.Context, t *store.Tale) error {
	if t.ID == "" {
		return errtypes.BadRequest("tale has no id")
	}
	now := time.Now()
	if t.Created.IsZero() {
		t.Created = now
	}
	if t.Updated.IsZero() {
		t.Updated = now
	}
	_, err := s.tales.ReplaceOne(ctx, bson.M{"_id": t.ID}, t, options.Replace().SetUpsert(true))
	return errors.Wrap(err, "mongo: error saving tale "+t.ID)
}

func (s *mstore) RemoveTale(ctx context.Context, id string) error {
	res, err := s.tales.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "mongo: error removing tale "+id)
	}
	if res.DeletedCount == 0 {
		return errtypes.NotFound("tale " + id)
	}
	return nil
}

func (s *mstore) TouchTale(ctx context.Context, id string) error {
	res, err := s.tales.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"updated": time.Now()}},
	)
	if err != nil {
		return errors.Wrap(err, "mongo: error touching tale "+id)
	}
	if res.MatchedCount == 0 {
		return errtypes.NotFound("tale " + id)
	}
	return nil
}
