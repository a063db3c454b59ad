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

// Package rhttp hosts registered HTTP services under one listener,
// routing by service prefix.
package rhttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/taleverse/talefs/pkg/appctx"
	"github.com/taleverse/talefs/pkg/rhttp/global"
)

// Config configures the server.
type Config func(*Server)

// WithServices sets the services to expose, keyed by name.
func WithServices(services map[string]global.Service) Config {
	return func(s *Server) {
		s.Services = services
	}
}

// WithLogger sets the server logger.
func WithLogger(log zerolog.Logger) Config {
	return func(s *Server) {
		s.log = log
	}
}

// InitServices instantiates every configured service from the global
// registry.
func InitServices(ctx context.Context, services map[string]map[string]interface{}) (map[string]global.Service, error) {
	log := appctx.GetLogger(ctx)
	s := make(map[string]global.Service)
	for name, m := range services {
		newFunc, ok := global.Services[name]
		if !ok {
			return nil, fmt.Errorf("http service %s does not exist", name)
		}
		svcLog := log.With().Str("service", name).Logger()
		svc, err := newFunc(appctx.WithLogger(ctx, &svcLog), m)
		if err != nil {
			return nil, errors.Wrapf(err, "http service %s could not be started", name)
		}
		s[name] = svc
	}
	return s, nil
}

// New returns a new server.
func New(c ...Config) (*Server, error) {
	s := &Server{
		log:        zerolog.Nop(),
		httpServer: &http.Server{},
		handlers:   map[string]http.Handler{},
	}
	for _, cc := range c {
		cc(s)
	}
	s.registerServices()
	return s, nil
}

// Server contains the server info.
type Server struct {
	Services map[string]global.Service // map key is service name

	httpServer *http.Server
	listener   net.Listener
	handlers   map[string]http.Handler // map key is svc prefix
	log        zerolog.Logger
}

// Start serves on the given listener until Stop or GracefulStop.
func (s *Server) Start(ln net.Listener) error {
	s.httpServer.Handler = s.getHandler()
	s.listener = ln

	s.log.Info().Msgf("http server listening at http://%s", s.listener.Addr())
	err := s.httpServer.Serve(s.listener)
	if err == nil || err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes the services and shuts the server down with a short
// deadline.
func (s *Server) Stop() error {
	s.closeServices()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// GracefulStop closes the services and drains in-flight requests.
func (s *Server) GracefulStop() error {
	s.closeServices()
	return s.httpServer.Shutdown(context.Background())
}

// Address returns the network address the server listens on.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

func (s *Server) closeServices() {
	for name, svc := range s.Services {
		if err := svc.Close(); err != nil {
			s.log.Error().Err(err).Msgf("error closing service %q", name)
		}
	}
}

func (s *Server) registerServices() {
	for name, svc := range s.Services {
		s.handlers[cleanPrefix(svc.Prefix())] = svc.Handler()
		s.log.Info().Msgf("http service enabled: %s@/%s", name, svc.Prefix())
	}
}

func cleanPrefix(prefix string) string {
	return "/" + strings.Trim(prefix, "/")
}

// getHandler routes by longest matching service prefix and strips the
// prefix before handing over, so services route relative to themselves.
func (s *Server) getHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		match := ""
		for prefix := range s.handlers {
			if len(prefix) < len(match) {
				continue
			}
			if r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix+"/") {
				match = prefix
			}
		}
		h, ok := s.handlers[match]
		if !ok {
			s.log.Debug().Msgf("http routing: url=%s svc=not-found", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		s.log.Debug().Msgf("http routing: url=%s svc=%s", r.URL.Path, match)
		r.URL.Path = strings.TrimPrefix(r.URL.Path, match)
		if r.URL.Path == "" {
			r.URL.Path = "/"
		}
		h.ServeHTTP(w, r.WithContext(appctx.WithLogger(r.Context(), &s.log)))
	})
}
