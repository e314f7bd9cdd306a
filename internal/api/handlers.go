package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/swing-detector/internal/detector"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/query"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

const serviceName = "swing-detector"

// SeriesHandler exposes the running series workers over HTTP.
type SeriesHandler struct {
	manager *detector.Manager
	swings  storage.SwingStorage
	queries *query.Service
}

// NewSeriesHandler creates a handler. swings may be nil, in which case swing
// queries are served from worker memory.
func NewSeriesHandler(manager *detector.Manager, swings storage.SwingStorage) *SeriesHandler {
	h := &SeriesHandler{manager: manager, swings: swings}
	h.queries = newQueryService(manager, h)
	return h
}

// RegisterRoutes mounts the series endpoints under /api/v1.
func (h *SeriesHandler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(ChainMiddleware(RequestIDMiddleware(), RecoveryMiddleware(), AccessMiddleware())))

	api.HandleFunc("/series", h.ListSeries).Methods("GET")
	api.HandleFunc("/series/{instrument}/{timeframe}", h.GetSeries).Methods("GET")
	api.HandleFunc("/series/{instrument}/{timeframe}/swings", h.GetSwings).Methods("GET")
	api.HandleFunc("/series/{instrument}/{timeframe}/rollback", h.Rollback).Methods("POST")
	h.registerQueryRoutes(api)
}

type seriesSummary struct {
	Key   models.SeriesKey     `json:"series"`
	Stats detector.WorkerStats `json:"stats"`
}

// ListSeries handles GET /api/v1/series
func (h *SeriesHandler) ListSeries(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	series := make([]seriesSummary, 0, len(stats))
	for _, key := range h.manager.Keys() {
		series = append(series, seriesSummary{Key: key, Stats: stats[key]})
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"series": series,
		"count":  len(series),
	})
}

// GetSeries handles GET /api/v1/series/{instrument}/{timeframe}
func (h *SeriesHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	worker, ok := h.lookup(w, r)
	if !ok {
		return
	}
	c, err := worker.Context()
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"series":  worker.Key(),
		"stats":   worker.GetStats(),
		"context": c,
	})
}

// GetSwings handles GET /api/v1/series/{instrument}/{timeframe}/swings
//
// Query parameters: direction (UP|DOWN), start and end (RFC3339), limit.
func (h *SeriesHandler) GetSwings(w http.ResponseWriter, r *http.Request) {
	key, err := seriesKey(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := swingFilter(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var swings []models.SwingPoint
	if h.swings != nil {
		swings, err = h.swings.GetSwings(r.Context(), key, filter)
		if err != nil {
			logger.Error("Failed to query swings", logger.ErrorField(err), logger.Series(key))
			respondWithError(w, http.StatusInternalServerError, "Failed to retrieve swings")
			return
		}
	} else {
		worker, ok := h.manager.Lookup(key)
		if !ok {
			respondWithError(w, http.StatusNotFound, "Series not found")
			return
		}
		all, err := worker.Swings()
		if err != nil {
			respondWithError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		for _, sw := range all {
			if filter.Match(sw) {
				swings = append(swings, sw)
			}
		}
		if filter.Limit > 0 && len(swings) > filter.Limit {
			swings = swings[:filter.Limit]
		}
	}

	if swings == nil {
		swings = []models.SwingPoint{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"series": key,
		"swings": swings,
		"count":  len(swings),
	})
}

// RollbackRequest is the body of a rollback call.
type RollbackRequest struct {
	From time.Time `json:"from"`
}

// Rollback handles POST /api/v1/series/{instrument}/{timeframe}/rollback
func (h *SeriesHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	key, err := seriesKey(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.From.IsZero() {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.manager.Rollback(r.Context(), key, req.From)
	switch {
	case err == nil:
	case errors.Is(err, detector.ErrRollbackUnsupported):
		respondWithError(w, http.StatusNotImplemented, err.Error())
		return
	case errors.Is(err, detector.ErrManagerStopped), errors.Is(err, detector.ErrWorkerStopped):
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		logger.Error("Rollback failed", logger.ErrorField(err), logger.Series(key))
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *SeriesHandler) lookup(w http.ResponseWriter, r *http.Request) (*detector.Worker, bool) {
	key, err := seriesKey(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	worker, ok := h.manager.Lookup(key)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Series not found")
		return nil, false
	}
	return worker, true
}

func seriesKey(r *http.Request) (models.SeriesKey, error) {
	vars := mux.Vars(r)
	tf, err := models.ParseTimeframe(vars["timeframe"])
	if err != nil {
		return models.SeriesKey{}, err
	}
	return models.NewSeriesKey(vars["instrument"], tf)
}

func swingFilter(r *http.Request) (storage.SwingFilter, error) {
	q := r.URL.Query()
	var f storage.SwingFilter
	if d := q.Get("direction"); d != "" {
		dir, err := models.ParseDirection(d)
		if err != nil {
			return f, err
		}
		f.Direction = dir
	}
	for name, dst := range map[string]*time.Time{"start": &f.Start, "end": &f.End} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, errors.New("invalid " + name + " time")
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("invalid limit")
		}
		f.Limit = n
	}
	return f, nil
}
