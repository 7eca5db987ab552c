// internal/ladder/transport/http/handler.go
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"laddertrade/internal/api/dto"
	"laddertrade/internal/ladder/entity"
	"laddertrade/internal/ladder/service"
	"laddertrade/internal/logger"
	"laddertrade/pkg/middleware"
)

type Handler struct {
	Manager        *service.Manager
	EntryOffset    decimal.Decimal
	TagPrefix      string
	StreamInterval time.Duration
	upgrader       websocket.Upgrader
}

func NewHandler(m *service.Manager, entryOffset decimal.Decimal, tagPrefix string, streamInterval time.Duration) *Handler {
	if streamInterval <= 0 {
		streamInterval = time.Second
	}
	return &Handler{
		Manager:        m,
		EntryOffset:    entryOffset,
		TagPrefix:      tagPrefix,
		StreamInterval: streamInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes mounts the ladder endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/ladders", h.Create)
	r.Get("/ladders", h.List)
	r.Get("/ladders/{id}", h.Status)
	r.Post("/ladders/{id}/pause", h.Pause)
	r.Post("/ladders/{id}/resume", h.Resume)
	r.Post("/ladders/{id}/cancel", h.Cancel)
	r.Get("/ladders/{id}/stream", h.Stream)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLadderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if err := dto.Validate.Struct(req); err != nil {
		middleware.HandleValidationError(w, err)
		return
	}

	plan, err := h.Manager.Create(r.Context(), req.Params(h.EntryOffset, h.TagPrefix))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	logger.Info(r.Context(), "LadderHandler: ladder created", "plan_id", plan.ID, "operator", middleware.Operator(r.Context()))
	middleware.WriteJSON(w, http.StatusCreated, dto.NewLadderResponse(plan))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Manager.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := make([]dto.LadderResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, dto.NewLadderResponse(p))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Manager.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dto.NewLadderResponse(plan))
}

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Manager.Pause)
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Manager.Resume)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Manager.Cancel)
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id string) (*entity.Plan, error)) {
	plan, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dto.NewLadderResponse(plan))
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *entity.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		middleware.WriteError(w, http.StatusBadRequest, cfgErr.Error(), cfgErr.Field)
	case errors.Is(err, service.ErrPlanNotFound):
		middleware.WriteError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrSymbolBusy):
		middleware.WriteError(w, http.StatusConflict, err.Error(), "")
	default:
		logger.ErrorWithErr(r.Context(), "LadderHandler: request failed", err, "path", r.URL.Path)
		middleware.WriteError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// Stream pushes the plan snapshot over a websocket whenever it changes, and
// closes after the plan is finished.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	plan, err := h.Manager.Status(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "LadderHandler: websocket upgrade failed", "plan_id", id, "error", err)
		return
	}
	defer ws.Close()

	// read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.StreamInterval)
	defer ticker.Stop()

	var sent time.Time
	for {
		if !plan.UpdatedAt.Equal(sent) {
			ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := ws.WriteJSON(dto.NewLadderResponse(plan)); err != nil {
				logger.Debug(r.Context(), "LadderHandler: stream write failed", "plan_id", id, "error", err)
				return
			}
			sent = plan.UpdatedAt
		} else if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			return
		}
		if plan.State.IsTerminal() && !service.NeedsCleanup(plan) {
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(plan.State)),
				time.Now().Add(time.Second))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
		if plan, err = h.Manager.Status(r.Context(), id); err != nil {
			return
		}
	}
}
