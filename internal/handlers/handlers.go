// Package handlers содержит HTTP обработчики для API
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"fracture-monitor/internal/archive"
	"fracture-monitor/internal/engine"
	"fracture-monitor/internal/metrics"
	"fracture-monitor/internal/models"
)

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	engine    *engine.Engine
	archive   *archive.RedisArchive
	startTime time.Time
}

// NewHandler создает новый обработчик
func NewHandler(eng *engine.Engine, arch *archive.RedisArchive) *Handler {
	return &Handler{
		engine:    eng,
		archive:   arch,
		startTime: time.Now(),
	}
}

// observeRequest тело запроса POST /observe
type observeRequest struct {
	EntityID  string             `json:"entity_id"`
	Channels  map[string]float64 `json:"channels"`
	Timestamp uint64             `json:"timestamp"`
}

// observeResponse ответ на наблюдение: оценка и порожденные события
type observeResponse struct {
	Score  models.FractureScore `json:"score"`
	Events []models.Event       `json:"events,omitempty"`
}

// ObserveHandler обрабатывает POST /observe - прием одной выборки
func (h *Handler) ObserveHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/observe", r.Method))
	defer timer.ObserveDuration()

	var req observeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/observe", r.Method, "400").Inc()
		return
	}
	if req.EntityID == "" {
		h.respondError(w, "entity_id is required", http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/observe", r.Method, "400").Inc()
		return
	}
	if req.Timestamp == 0 {
		req.Timestamp = uint64(time.Now().UnixNano())
	}

	score, events, err := h.engine.Observe(req.EntityID, req.Channels, req.Timestamp)
	if err != nil {
		// Ошибки выборки входят в контракт: коллаборант исправляет свой поток
		switch {
		case errors.Is(err, models.ErrOutOfOrderSample), errors.Is(err, models.ErrInvalidSample):
			h.respondError(w, err.Error(), http.StatusUnprocessableEntity)
			metrics.RequestsTotal.WithLabelValues("/observe", r.Method, "422").Inc()
		case errors.Is(err, models.ErrEngineClosed):
			h.respondError(w, err.Error(), http.StatusServiceUnavailable)
			metrics.RequestsTotal.WithLabelValues("/observe", r.Method, "503").Inc()
		default:
			h.respondError(w, err.Error(), http.StatusInternalServerError)
			metrics.RequestsTotal.WithLabelValues("/observe", r.Method, "500").Inc()
		}
		return
	}

	if h.archive != nil {
		_ = h.archive.PushScore(score)
	}

	metrics.RequestsTotal.WithLabelValues("/observe", r.Method, "200").Inc()
	h.respondJSON(w, observeResponse{Score: score, Events: events}, http.StatusOK)
}

// batchRequest тело запроса POST /observe/batch
type batchRequest struct {
	Samples []engine.Sample `json:"samples"`
}

// BatchObserveHandler обрабатывает POST /observe/batch - пакетная оценка
func (h *Handler) BatchObserveHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/observe/batch", r.Method))
	defer timer.ObserveDuration()

	var batch batchRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/observe/batch", r.Method, "400").Inc()
		return
	}

	results := h.engine.ObserveBatch(batch.Samples)

	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}

	response := map[string]interface{}{
		"processed": len(results),
		"failed":    failed,
		"results":   results,
	}

	metrics.RequestsTotal.WithLabelValues("/observe/batch", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// outcomeRequest тело запроса POST /outcome
type outcomeRequest struct {
	EntityID string              `json:"entity_id"`
	EventRef string              `json:"event_ref"`
	Label    models.OutcomeLabel `json:"label"`
}

// OutcomeHandler обрабатывает POST /outcome - подтвержденный исход события
func (h *Handler) OutcomeHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/outcome", r.Method))
	defer timer.ObserveDuration()

	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/outcome", r.Method, "400").Inc()
		return
	}
	if req.EntityID == "" || req.EventRef == "" {
		h.respondError(w, "entity_id and event_ref are required", http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/outcome", r.Method, "400").Inc()
		return
	}

	if err := h.engine.RecordOutcome(req.EntityID, req.EventRef, req.Label); err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/outcome", r.Method, "400").Inc()
		return
	}

	metrics.RequestsTotal.WithLabelValues("/outcome", r.Method, "202").Inc()
	h.respondJSON(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
}

// ProfileHandler обрабатывает GET /profile/{entity} - снимок профиля
func (h *Handler) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/profile", r.Method))
	defer timer.ObserveDuration()

	entityID := mux.Vars(r)["entity"]
	snap, err := h.engine.Profile(entityID)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusNotFound)
		metrics.RequestsTotal.WithLabelValues("/profile", r.Method, "404").Inc()
		return
	}

	metrics.RequestsTotal.WithLabelValues("/profile", r.Method, "200").Inc()
	h.respondJSON(w, snap, http.StatusOK)
}

// RiskHandler обрабатывает GET /risk/{entity}?fi= - вероятность кризиса
// по памяти шаблонов при заданном индексе и текущих каналах
func (h *Handler) RiskHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/risk", r.Method))
	defer timer.ObserveDuration()

	entityID := mux.Vars(r)["entity"]

	fi, err := strconv.ParseFloat(r.URL.Query().Get("fi"), 64)
	if err != nil {
		h.respondError(w, "query parameter fi is required", http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/risk", r.Method, "400").Inc()
		return
	}

	channels := make(map[string]float64)
	for key, values := range r.URL.Query() {
		if key == "fi" || len(values) == 0 {
			continue
		}
		if v, err := strconv.ParseFloat(values[0], 64); err == nil {
			channels[key] = v
		}
	}

	risk, err := h.engine.PredictRisk(entityID, fi, channels)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusNotFound)
		metrics.RequestsTotal.WithLabelValues("/risk", r.Method, "404").Inc()
		return
	}

	metrics.RequestsTotal.WithLabelValues("/risk", r.Method, "200").Inc()
	h.respondJSON(w, map[string]float64{"risk": risk}, http.StatusOK)
}

// StatusHandler обрабатывает GET /status - агрегированное состояние движка
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/status", r.Method))
	defer timer.ObserveDuration()

	metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))

	metrics.RequestsTotal.WithLabelValues("/status", r.Method, "200").Inc()
	h.respondJSON(w, h.engine.Status(), http.StatusOK)
}

// ResetHandler обрабатывает POST /reset/{entity} - сброс сессии сущности
func (h *Handler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/reset", r.Method))
	defer timer.ObserveDuration()

	entityID := mux.Vars(r)["entity"]
	if err := h.engine.ResetEntity(entityID); err != nil {
		h.respondError(w, err.Error(), http.StatusNotFound)
		metrics.RequestsTotal.WithLabelValues("/reset", r.Method, "404").Inc()
		return
	}

	metrics.RequestsTotal.WithLabelValues("/reset", r.Method, "200").Inc()
	h.respondJSON(w, map[string]string{"status": "reset"}, http.StatusOK)
}

// ExportHandler обрабатывает GET /export/{entity} - экспорт профиля
func (h *Handler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/export", r.Method))
	defer timer.ObserveDuration()

	entityID := mux.Vars(r)["entity"]
	exp, err := h.engine.ExportProfile(entityID)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusNotFound)
		metrics.RequestsTotal.WithLabelValues("/export", r.Method, "404").Inc()
		return
	}

	if h.archive != nil {
		_ = h.archive.SaveProfile(exp)
	}

	metrics.RequestsTotal.WithLabelValues("/export", r.Method, "200").Inc()
	h.respondJSON(w, exp, http.StatusOK)
}

// ImportHandler обрабатывает POST /import - восстановление профиля.
// Экспорты старых версий схемы мигрируются вперед; поврежденный
// документ заменяет профиль свежим со старым на офлайн-разборе.
func (h *Handler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/import", r.Method))
	defer timer.ObserveDuration()

	var exp models.ProfileExport
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/import", r.Method, "400").Inc()
		return
	}

	if err := h.engine.ImportProfile(exp); err != nil {
		if errors.Is(err, models.ErrSchemaVersion) {
			h.respondError(w, err.Error(), http.StatusUnprocessableEntity)
			metrics.RequestsTotal.WithLabelValues("/import", r.Method, "422").Inc()
			return
		}
		if exp.EntityID != "" {
			h.engine.RecoverProfile(exp.EntityID)
		}
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/import", r.Method, "400").Inc()
		return
	}

	metrics.RequestsTotal.WithLabelValues("/import", r.Method, "200").Inc()
	h.respondJSON(w, map[string]string{"status": "imported"}, http.StatusOK)
}

// RecentScoresHandler возвращает последние оценки из архива
func (h *Handler) RecentScoresHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/scores/recent", r.Method))
	defer timer.ObserveDuration()

	count := int64(50)
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		if c, err := strconv.ParseInt(countStr, 10, 64); err == nil && c > 0 && c <= 1000 {
			count = c
		}
	}

	if h.archive == nil {
		h.respondError(w, "Archive not available", http.StatusServiceUnavailable)
		return
	}

	scores, err := h.archive.RecentScores(count)
	if err != nil {
		h.respondError(w, "Failed to get scores: "+err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.RequestsTotal.WithLabelValues("/scores/recent", r.Method, "200").Inc()
	h.respondJSON(w, scores, http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	archiveStatus := "disconnected"
	if h.archive != nil && h.archive.Ping() == nil {
		archiveStatus = "connected"
	}

	h.respondJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"archive":   archiveStatus,
		"uptime":    time.Since(h.startTime).String(),
	}, http.StatusOK)
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
