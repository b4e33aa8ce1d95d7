/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/timecounter/kernntp"
	"github.com/facebook/timecounter/timecounter"
)

// Status is the state of the timecounter and its discipline
type Status struct {
	Now         time.Time         `json:"now"`
	Uptime      time.Duration     `json:"uptime"`
	Timecounter timecounter.Stats `json:"timecounter"`
	Discipline  kernntp.Stats     `json:"discipline"`
}

// Controller is what the server lets administrators see and change
type Controller interface {
	List() []timecounter.Info
	Select(name string) error
	MarkBad(name string) error
	Status() Status
}

// Server serves stats and admin requests over http
type Server struct {
	stats StatsServer
	ctl   Controller
	prom  *PrometheusExporter
}

// NewServer returns a new Server
func NewServer(stats StatsServer, ctl Controller) *Server {
	return &Server{stats: stats, ctl: ctl, prom: NewPrometheusExporter()}
}

// Handler returns http handler with all the endpoints
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStats)
	mux.HandleFunc("/counters", s.handleCounters)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/select", s.handleAdmin(s.ctl.Select))
	mux.HandleFunc("/markbad", s.handleAdmin(s.ctl.MarkBad))
	mux.Handle("/metrics", s.metrics())
	return mux
}

// Start runs http server until ctx is done
func (s *Server) Start(ctx context.Context, monitoringport int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", monitoringport),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warningf("shutting down http server: %v", err)
		}
	}()
	log.Infof("Starting http json server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// metrics refreshes Prometheus gauges from stats on every scrape
func (s *Server) metrics() http.Handler {
	h := s.prom.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.prom.Update(s.stats.Get())
		h.ServeHTTP(w, r)
	})
}

func reply(w http.ResponseWriter, v any) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	reply(w, s.stats.Get())
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}
	reply(w, s.ctl.List())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}
	reply(w, s.ctl.Status())
}

func (s *Server) handleAdmin(f func(name string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "'name' is required", http.StatusBadRequest)
			return
		}
		err := f(name)
		switch {
		case errors.Is(err, timecounter.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, timecounter.ErrBuiltin):
			http.Error(w, err.Error(), http.StatusForbidden)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			reply(w, s.ctl.List())
		}
	}
}
