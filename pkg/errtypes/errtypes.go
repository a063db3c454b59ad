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

// Package errtypes contains definitions for common errors.
// It would have been nice to call this package errors, err or error
// but errors clashes with github.com/pkg/errors, err is used for any error
// variable and error is a reserved word :)
package errtypes

// NotFound is the error to use when a resource is not found.
type NotFound string

func (e NotFound) Error() string { return "error: not found: " + string(e) }

// IsNotFound implements the IsNotFound interface.
func (e NotFound) IsNotFound() {}

// AlreadyExists is the error to use when a sibling with the same name
// already exists and renaming was not allowed.
type AlreadyExists string

func (e AlreadyExists) Error() string { return "error: already exists: " + string(e) }

// IsAlreadyExists implements the IsAlreadyExists interface.
func (e AlreadyExists) IsAlreadyExists() {}

// InvalidName is the error to use when a name fails validation as a
// portable filename.
type InvalidName string

func (e InvalidName) Error() string { return "error: invalid name: " + string(e) }

// IsInvalidName implements the IsInvalidName interface.
func (e InvalidName) IsInvalidName() {}

// Busy is the error to use when the per-tale critical section could not be
// acquired. Callers are expected to retry later.
type Busy string

func (e Busy) Error() string { return "error: busy: " + string(e) }

// IsBusy implements the IsBusy interface.
func (e Busy) IsBusy() {}

// NotModified is returned by version creation when the workspace and tale
// metadata are identical to an existing version. The string payload is the
// id of that version.
type NotModified string

func (e NotModified) Error() string { return "error: not modified: " + string(e) }

// VersionID returns the id of the version the creation short-circuited to.
func (e NotModified) VersionID() string { return string(e) }

// IsNotModified implements the IsNotModified interface.
func (e NotModified) IsNotModified() {}

// InUse is the error to use when a version cannot be deleted because live
// runs still reference it.
type InUse string

func (e InUse) Error() string { return "error: in use: " + string(e) }

// IsInUse implements the IsInUse interface.
func (e InUse) IsInUse() {}

// BadRequest is the error to use when the request cannot be parsed or is
// semantically invalid.
type BadRequest string

func (e BadRequest) Error() string { return "error: bad request: " + string(e) }

// IsBadRequest implements the IsBadRequest interface.
func (e BadRequest) IsBadRequest() {}

// InternalError is the error to use when the underlying store or filesystem
// failed in a way the caller cannot recover from.
type InternalError string

func (e InternalError) Error() string { return "internal error: " + string(e) }

// IsInternalError implements the IsInternalError interface.
func (e InternalError) IsInternalError() {}

// IsNotFound is the interface to implement
// to specify that a resource is not found.
type IsNotFound interface {
	IsNotFound()
}

// IsAlreadyExists is the interface to implement
// to specify that a resource already exists.
type IsAlreadyExists interface {
	IsAlreadyExists()
}

// IsInvalidName is the interface to implement
// to specify that a name is not a valid filename.
type IsInvalidName interface {
	IsInvalidName()
}

// IsBusy is the interface to implement
// to specify that an operation should be retried later.
type IsBusy interface {
	IsBusy()
}

// IsNotModified is the interface to implement
// to specify that nothing changed since the last snapshot.
type IsNotModified interface {
	IsNotModified()
}

// IsInUse is the interface to implement
// to specify that a resource is still referenced.
type IsInUse interface {
	IsInUse()
}

// IsBadRequest is the interface to implement
// to specify that a request is invalid.
type IsBadRequest interface {
	IsBadRequest()
}

// IsInternalError is the interface to implement
// to specify an unrecoverable backend failure.
type IsInternalError interface {
	IsInternalError()
}
