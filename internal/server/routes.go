package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/seastock/shrinkage-cli/internal/model"
	"github.com/seastock/shrinkage-cli/internal/store"
)

type forecastRequest struct {
	Item          string  `json:"item"`
	Category      string  `json:"category,omitempty"`
	Balance       float64 `json:"balance"`
	ElapsedDays   int     `json:"elapsed_days"`
	InvConfidence float64 `json:"inv_confidence,omitempty"`
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	var req forecastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Item == "" {
		writeError(w, http.StatusBadRequest, "item required")
		return
	}

	// Category is optional; unset or unknown values fall back to the
	// keyword classifier, same as a batch run.
	cat := model.Category(req.Category)
	if !cat.Valid() {
		cat = s.engine.Classifier().Classify(req.Item)
	}

	inv := req.InvConfidence
	if inv == 0 {
		inv = 1
	}

	fc, err := s.engine.Forecaster().Forecast(req.Item, cat, req.Balance, req.ElapsedDays, time.Now(), inv)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.store != nil {
		if err := s.store.SaveForecast(r.Context(), "", fc); err != nil {
			zap.L().Warn("persist forecast", zap.String("item", fc.Item), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handleListForecasts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	forecasts, err := s.store.ListForecasts(r.Context(), limit)
	if err != nil {
		zap.L().Error("list forecasts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list forecasts failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(forecasts),
		"forecasts": forecasts,
	})
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	states := s.engine.Estimator().Snapshot()

	if item := r.URL.Query().Get("item"); item != "" {
		filtered := states[:0]
		for _, st := range states {
			if st.Item == item {
				filtered = append(filtered, st)
			}
		}
		states = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(states),
		"states": states,
	})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}

	filter := store.BatchFilter{Source: r.URL.Query().Get("source")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	runs, err := s.store.ListBatches(r.Context(), filter)
	if err != nil {
		zap.L().Error("list batches", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list batches failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(runs),
		"batches": runs,
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}

	id := chi.URLParam(r, "batchID")
	run, err := s.store.GetBatch(r.Context(), id)
	if errors.Is(err, store.ErrBatchNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		zap.L().Error("get batch", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get batch failed")
		return
	}

	writeJSON(w, http.StatusOK, run)
}
