package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/swing-detector/internal/detector"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/query"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

// defaultMaxFiboError is the retracement match tolerance when none is given.
const defaultMaxFiboError = 0.02

func (h *SeriesHandler) registerQueryRoutes(api *mux.Router) {
	api.HandleFunc("/series/{instrument}/{timeframe}/swings/before", h.SwingBefore).Methods("GET")
	api.HandleFunc("/series/{instrument}/{timeframe}/swings/after", h.SwingAfter).Methods("GET")
	api.HandleFunc("/series/{instrument}/{timeframe}/swings/extremes", h.SwingExtremes).Methods("GET")
	api.HandleFunc("/series/{instrument}/{timeframe}/swings/nearest", h.NearestSwing).Methods("GET")
	api.HandleFunc("/series/{instrument}/{timeframe}/swings/precise", h.PreciseSwing).Methods("GET")
	api.HandleFunc("/series/{instrument}/{timeframe}/swings/nearby", h.NearbySwings).Methods("GET")
	api.HandleFunc("/series/{instrument}/{timeframe}/retracement", h.GetRetracement).Methods("GET")
	api.HandleFunc("/partitions", h.GetPartitions).Methods("GET")
	api.HandleFunc("/partitions", h.UpdatePartitions).Methods("PUT")
}

// newQueryService reads from storage when available, otherwise from the
// swings held by running workers.
func newQueryService(manager *detector.Manager, h *SeriesHandler) *query.Service {
	if h.swings != nil {
		return query.NewService(query.StoreSource{Store: h.swings})
	}
	return query.NewService(query.SnapshotSource{Load: func(key models.SeriesKey) ([]models.SwingPoint, bool, error) {
		worker, ok := manager.Lookup(key)
		if !ok {
			return nil, false, nil
		}
		swings, err := worker.Swings()
		return swings, true, err
	}})
}

// SwingBefore handles GET .../swings/before?time=&direction=
func (h *SeriesHandler) SwingBefore(w http.ResponseWriter, r *http.Request) {
	h.neighbour(w, r, h.queries.Before)
}

// SwingAfter handles GET .../swings/after?time=&direction=
func (h *SeriesHandler) SwingAfter(w http.ResponseWriter, r *http.Request) {
	h.neighbour(w, r, h.queries.After)
}

type neighbourFunc func(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error)

func (h *SeriesHandler) neighbour(w http.ResponseWriter, r *http.Request, find neighbourFunc) {
	key, ok := h.queryKey(w, r)
	if !ok {
		return
	}
	p := params{r: r}
	t := p.timestamp("time", true)
	dir := p.dir("direction", false)
	if p.failed(w) {
		return
	}

	sw, err := find(r.Context(), key, t, dir)
	if err != nil {
		h.queryFailed(w, key, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"series": key,
		"swing":  sw,
	})
}

// SwingExtremes handles GET .../swings/extremes
func (h *SeriesHandler) SwingExtremes(w http.ResponseWriter, r *http.Request) {
	key, ok := h.queryKey(w, r)
	if !ok {
		return
	}
	highest, lowest, err := h.queries.Extremes(r.Context(), key)
	if err != nil {
		h.queryFailed(w, key, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"series":  key,
		"highest": highest,
		"lowest":  lowest,
	})
}

// NearestSwing handles GET .../swings/nearest?time=&price=&direction=
func (h *SeriesHandler) NearestSwing(w http.ResponseWriter, r *http.Request) {
	key, ok := h.queryKey(w, r)
	if !ok {
		return
	}
	p := params{r: r}
	t := p.timestamp("time", true)
	price := p.number("price", true, 0)
	dir := p.dir("direction", true)
	if p.failed(w) {
		return
	}

	sw, err := h.queries.Nearest(r.Context(), key, t, price, dir)
	if err != nil {
		h.queryFailed(w, key, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"series": key,
		"swing":  sw,
	})
}

// PreciseSwing handles GET .../swings/precise?time=&direction=
//
// The swing at time is refined through finer timeframes.
func (h *SeriesHandler) PreciseSwing(w http.ResponseWriter, r *http.Request) {
	key, ok := h.queryKey(w, r)
	if !ok {
		return
	}
	sw, ok := h.swingAt(w, r, key)
	if !ok {
		return
	}

	precise, err := h.queries.Precise(r.Context(), key, *sw)
	if err != nil {
		h.queryFailed(w, key, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"series":  key,
		"swing":   sw,
		"precise": precise,
	})
}

// NearbySwings handles GET .../swings/nearby?time=&steps=&include_center=
func (h *SeriesHandler) NearbySwings(w http.ResponseWriter, r *http.Request) {
	key, ok := h.queryKey(w, r)
	if !ok {
		return
	}
	center, ok := h.swingAt(w, r, key)
	if !ok {
		return
	}
	p := params{r: r}
	steps := p.count("steps", 1)
	withCenter := p.flag("include_center")
	if p.failed(w) {
		return
	}

	swings, err := h.queries.Nearby(r.Context(), key, *center, steps, withCenter)
	if err != nil {
		h.queryFailed(w, key, err)
		return
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

// GetRetracement handles GET .../retracement?time=&max_error=&levels=
//
// time defaults to now, levels names a fibo level set.
func (h *SeriesHandler) GetRetracement(w http.ResponseWriter, r *http.Request) {
	key, ok := h.queryKey(w, r)
	if !ok {
		return
	}
	p := params{r: r}
	at := p.timestamp("time", false)
	maxErr := p.number("max_error", false, defaultMaxFiboError)
	if p.failed(w) {
		return
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	levels, err := models.FiboSet(r.URL.Query().Get("levels"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.queries.Retracement(r.Context(), key, at, maxErr, levels)
	switch {
	case err == nil:
	case errors.Is(err, query.ErrNotEnoughSwings):
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, query.ErrFlatLeg):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		h.queryFailed(w, key, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"series":      key,
		"retracement": res,
	})
}

// PartitionsRequest is the body of a partitions update.
type PartitionsRequest struct {
	WorkerCount int `json:"worker_count"`
}

// GetPartitions handles GET /api/v1/partitions
func (h *SeriesHandler) GetPartitions(w http.ResponseWriter, r *http.Request) {
	pm := h.manager.Partitions()
	if pm == nil {
		respondWithError(w, http.StatusNotFound, detector.ErrNotPartitioned.Error())
		return
	}
	assigned := pm.Assigned()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"worker_index": pm.GetWorkerID(),
		"worker_count": pm.GetTotalWorkers(),
		"assigned":     assigned,
		"count":        len(assigned),
	})
}

// UpdatePartitions handles PUT /api/v1/partitions
func (h *SeriesHandler) UpdatePartitions(w http.ResponseWriter, r *http.Request) {
	var req PartitionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerCount <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch err := h.manager.Rebalance(req.WorkerCount); {
	case err == nil:
	case errors.Is(err, detector.ErrNotPartitioned):
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	default:
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Info("Rebalanced partitions", logger.Int("worker_count", req.WorkerCount))
	h.GetPartitions(w, r)
}

// queryKey parses the series key. Without storage only running series can
// be queried.
func (h *SeriesHandler) queryKey(w http.ResponseWriter, r *http.Request) (models.SeriesKey, bool) {
	key, err := seriesKey(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return key, false
	}
	if h.swings == nil {
		if _, ok := h.manager.Lookup(key); !ok {
			respondWithError(w, http.StatusNotFound, "Series not found")
			return key, false
		}
	}
	return key, true
}

// swingAt resolves the swing at the time and optional direction parameters.
func (h *SeriesHandler) swingAt(w http.ResponseWriter, r *http.Request, key models.SeriesKey) (*models.SwingPoint, bool) {
	p := params{r: r}
	t := p.timestamp("time", true)
	dir := p.dir("direction", false)
	if p.failed(w) {
		return nil, false
	}
	sw, err := h.queries.Before(r.Context(), key, t.Add(time.Nanosecond), dir)
	if err != nil {
		h.queryFailed(w, key, err)
		return nil, false
	}
	if sw == nil || !sw.Time.Equal(t) {
		respondWithError(w, http.StatusNotFound, "Swing not found")
		return nil, false
	}
	return sw, true
}

func (h *SeriesHandler) queryFailed(w http.ResponseWriter, key models.SeriesKey, err error) {
	logger.Error("Swing query failed", logger.ErrorField(err), logger.Series(key))
	logger.CountError(serviceName, "query")
	if errors.Is(err, detector.ErrWorkerStopped) {
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondWithError(w, http.StatusInternalServerError, "Failed to query swings")
}

// params collects query parameters, keeping the first error.
type params struct {
	r   *http.Request
	err error
}

func (p *params) get(name string, required bool) string {
	v := p.r.URL.Query().Get(name)
	if v == "" && required && p.err == nil {
		p.err = errors.New("missing " + name)
	}
	return v
}

func (p *params) fail(name string) {
	if p.err == nil {
		p.err = errors.New("invalid " + name)
	}
}

func (p *params) timestamp(name string, required bool) time.Time {
	v := p.get(name, required)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		p.fail(name)
	}
	return t
}

func (p *params) dir(name string, required bool) models.Direction {
	v := p.get(name, required)
	if v == "" {
		return ""
	}
	dir, err := models.ParseDirection(v)
	if err != nil {
		p.fail(name)
	}
	return dir
}

func (p *params) number(name string, required bool, def float64) float64 {
	v := p.get(name, required)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		p.fail(name)
	}
	return f
}

func (p *params) count(name string, def int) int {
	v := p.get(name, false)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.fail(name)
	}
	return n
}

func (p *params) flag(name string) bool {
	v := p.get(name, false)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(name)
	}
	return b
}

func (p *params) failed(w http.ResponseWriter) bool {
	if p.err != nil {
		respondWithError(w, http.StatusBadRequest, p.err.Error())
		return true
	}
	return false
}
