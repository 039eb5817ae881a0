package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pagewatch/kit"
	"github.com/hazyhaar/pagewatch/shield"
)

// Handler returns the status API router.
func (s *Service) Handler() http.Handler {
	eps := s.endpoints()
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(s.logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"status": "ok"}
		if st := s.Stats(); st != nil {
			body["stats"] = st
		}
		writeJSON(w, http.StatusOK, body)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/jobs", serve(eps.listJobs, func(*http.Request) (any, error) { return nil, nil }))
		r.Get("/jobs/{id}/history", serve(eps.history, func(r *http.Request) (any, error) {
			return &historyRequest{
				Job:     chi.URLParam(r, "id"),
				Limit:   queryInt(r, "limit", 0),
				Content: queryBool(r, "content"),
			}, nil
		}))
		r.Get("/jobs/{id}/fetches", serve(eps.fetches, func(r *http.Request) (any, error) {
			return &fetchesRequest{Job: chi.URLParam(r, "id"), Limit: queryInt(r, "limit", 0)}, nil
		}))
		r.Delete("/jobs/{id}/history", serve(eps.reset, func(r *http.Request) (any, error) {
			return &resetRequest{Job: chi.URLParam(r, "id")}, nil
		}))
		r.Post("/run", func(w http.ResponseWriter, r *http.Request) {
			req := &runRequest{Wait: queryBool(r, "wait")}
			resp, err := eps.run(r.Context(), req)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			code := http.StatusOK
			if !req.Wait {
				code = http.StatusAccepted
			}
			writeJSON(w, code, resp)
		})
		r.Get("/last", serve(eps.last, func(*http.Request) (any, error) { return nil, nil }))
	})
	return r
}

// serve adapts an endpoint to an HTTP handler.
func serve(ep kit.Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := ep(r.Context(), req)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrNoRun):
		return http.StatusNotFound
	case errors.Is(err, ErrAmbiguousJob):
		return http.StatusConflict
	case errors.Is(err, ErrNoScheduler), errors.Is(err, ErrNoFetchLog):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("server: listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server: stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
