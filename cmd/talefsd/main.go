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

// talefsd is the versioning daemon. It reads a TOML config, instantiates
// the configured HTTP services and serves them on one listener until
// SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/logger"
	"github.com/taleverse/talefs/pkg/rhttp"

	// Load HTTP services and drivers.
	_ "github.com/taleverse/talefs/internal/http/services/loader"
	_ "github.com/taleverse/talefs/pkg/jobqueue/memory"
	_ "github.com/taleverse/talefs/pkg/jobqueue/nats"
	_ "github.com/taleverse/talefs/pkg/store/memory"
	_ "github.com/taleverse/talefs/pkg/store/mongo"
)

type logConfig struct {
	Output string `toml:"output"`
	Mode   string `toml:"mode"`
	Level  string `toml:"level"`
}

type httpConfig struct {
	Address  string                            `toml:"address"`
	Services map[string]map[string]interface{} `toml:"services"`
}

type coreConfig struct {
	Log  logConfig  `toml:"log"`
	HTTP httpConfig `toml:"http"`
}

func main() {
	configFile := flag.String("c", "/etc/talefs/talefsd.toml", "configuration file")
	flag.Parse()

	var conf coreConfig
	if _, err := toml.DecodeFile(*configFile, &conf); err != nil {
		fmt.Fprintf(os.Stderr, "error reading config %s: %v\n", *configFile, err)
		os.Exit(1)
	}
	if conf.HTTP.Address == "" {
		conf.HTTP.Address = "localhost:9998"
	}

	log := newLogger(conf.Log)
	ctx := appctx.WithLogger(context.Background(), log)

	services, err := rhttp.InitServices(ctx, conf.HTTP.Services)
	if err != nil {
		log.Fatal().Err(err).Msg("error initializing http services")
	}

	server, err := rhttp.New(
		rhttp.WithServices(services),
		rhttp.WithLogger(*log),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating http server")
	}

	ln, err := net.Listen("tcp", conf.HTTP.Address)
	if err != nil {
		log.Fatal().Err(err).Str("address", conf.HTTP.Address).Msg("error listening")
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		log.Info().Msgf("signal %q received, shutting down", s)
		if err := server.GracefulStop(); err != nil {
			log.Error().Err(err).Msg("error stopping server")
		}
	}()

	if err := server.Start(ln); err != nil {
		log.Fatal().Err(err).Msg("http server exited")
	}
}

func newLogger(c logConfig) *zerolog.Logger {
	w := os.Stderr
	if c.Output == "stdout" {
		w = os.Stdout
	}
	mode := logger.JSONMode
	if c.Mode == "console" {
		mode = logger.ConsoleMode
	}
	return logger.New(logger.WithLevel(c.Level), logger.WithWriter(w, mode))
}
