package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"medscribe/consult"
	"medscribe/insight"
	"medscribe/metrics"
)

// Handler exposes the consultation pipeline over HTTP for the clinician
// UI: session control actions, the transcript feed and the insight
// review queue.
type Handler struct {
	manager *consult.Manager
	met     *metrics.Metrics
}

func NewHandler(manager *consult.Manager, met *metrics.Metrics) *Handler {
	return &Handler{manager: manager, met: met}
}

// Router builds the API routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if h.met != nil {
		r.Use(h.countRequests)
	}

	r.Route("/api/consultations", func(r chi.Router) {
		r.Post("/", h.createConsultation)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getConsultation)
			r.Post("/start", h.startSession)
			r.Post("/pause", h.pauseSession)
			r.Post("/resume", h.resumeSession)
			r.Post("/end", h.endSession)
			r.Get("/transcript", h.getTranscript)
			r.Get("/insights", h.getInsights)
			r.Post("/insights/{itemID}/accept", h.reviewAction((*insight.Store).Accept))
			r.Post("/insights/{itemID}/dismiss", h.reviewAction((*insight.Store).Dismiss))
			r.Post("/insights/{itemID}/ask", h.reviewAction((*insight.Store).MarkAsked))
			r.Post("/insights/{itemID}/restore", h.reviewAction((*insight.Store).Restore))
		})
	})
	return r
}

func (h *Handler) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		h.met.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
	})
}

func (h *Handler) createConsultation(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.manager.Create(r.Context())
	if err != nil {
		http.Error(w, "failed to create consultation", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"consultation_id": ctrl.ID().String()})
}

// session looks up the controller for the {id} route param.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *consult.Controller {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid consultation id", http.StatusBadRequest)
		return nil
	}
	ctrl, err := h.manager.Get(id)
	if err != nil {
		http.Error(w, "consultation not found", http.StatusNotFound)
		return nil
	}
	return ctrl
}

func (h *Handler) getConsultation(w http.ResponseWriter, r *http.Request) {
	ctrl := h.session(w, r)
	if ctrl == nil {
		return
	}
	detected, lastSpeech := ctrl.SpeechDetected()
	resp := map[string]any{
		"consultation_id": ctrl.ID().String(),
		"recording_state": string(ctrl.State()),
		"connection":      ctrl.ConnectionState().String(),
		"final_segments":  len(ctrl.Transcript()),
		"pending_items":   ctrl.Store().PendingCount(),
		"silence_warning": ctrl.SilenceWarning(),
		"speech_detected": detected,
	}
	if !lastSpeech.IsZero() {
		resp["last_speech_at"] = lastSpeech
	}
	if err := ctrl.LastError(); err != nil {
		resp["last_error"] = err.Error()
	}
	writeJSON(w, resp)
}

// control runs one session action, mapping invalid transitions to 409.
func (h *Handler) control(w http.ResponseWriter, r *http.Request, action func(*consult.Controller) error) {
	ctrl := h.session(w, r)
	if ctrl == nil {
		return
	}
	if err := action(ctrl); err != nil {
		if errors.Is(err, consult.ErrInvalidTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
		} else {
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}
	writeJSON(w, map[string]string{"recording_state": string(ctrl.State())})
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(c *consult.Controller) error { return c.Start(r.Context()) })
}

func (h *Handler) pauseSession(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(c *consult.Controller) error { return c.Pause() })
}

func (h *Handler) resumeSession(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(c *consult.Controller) error { return c.Resume(r.Context()) })
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(c *consult.Controller) error { return c.End(r.Context()) })
}

type transcriptSegment struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	ProducedAt time.Time `json:"produced_at"`
}

func (h *Handler) getTranscript(w http.ResponseWriter, r *http.Request) {
	ctrl := h.session(w, r)
	if ctrl == nil {
		return
	}

	segs := ctrl.Transcript()
	out := make([]transcriptSegment, 0, len(segs))
	for _, s := range segs {
		out = append(out, transcriptSegment{
			ID:         s.ID.String(),
			Text:       s.Text,
			Confidence: s.Confidence,
			ProducedAt: s.ProducedAt,
		})
	}
	writeJSON(w, map[string]any{
		"segments": out,
		"interim":  ctrl.Interim(),
	})
}

type insightItem struct {
	ID       string                    `json:"id"`
	Kind     string                    `json:"kind"`
	Status   string                    `json:"status"`
	Question *insight.FollowUpQuestion `json:"question,omitempty"`
	Flag     *insight.RedFlag          `json:"flag,omitempty"`
}

func (h *Handler) getInsights(w http.ResponseWriter, r *http.Request) {
	ctrl := h.session(w, r)
	if ctrl == nil {
		return
	}

	store := ctrl.Store()
	items := store.Items()
	out := make([]insightItem, 0, len(items))
	for _, it := range items {
		out = append(out, insightItem{
			ID:       it.ID.String(),
			Kind:     string(it.Kind),
			Status:   string(it.Status),
			Question: it.Question,
			Flag:     it.Flag,
		})
	}
	writeJSON(w, map[string]any{
		"items":    out,
		"pending":  store.PendingCount(),
		"entities": store.Entities(),
	})
}

func (h *Handler) reviewAction(action func(*insight.Store, uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl := h.session(w, r)
		if ctrl == nil {
			return
		}
		itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
		if err != nil {
			http.Error(w, "invalid item id", http.StatusBadRequest)
			return
		}
		if err := action(ctrl.Store(), itemID); err != nil {
			if errors.Is(err, insight.ErrUnknownItem) {
				http.Error(w, "item not found", http.StatusNotFound)
			} else {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
