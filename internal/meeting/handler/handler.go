package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"practicum/internal/meeting/models"
	"practicum/internal/meeting/service"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
	"practicum/pkg/platform/httputil"
	authmw "practicum/pkg/platform/middleware/auth"
	"practicum/pkg/requestcontext"
)

// Service defines the meeting operations the handler exposes.
type Service interface {
	Create(ctx context.Context, cmd service.CreateCommand) (*models.Meeting, error)
	Respond(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID, responderID id.UserID, resp models.Response) (*models.Meeting, error)
	ListForViewer(ctx context.Context, tenantID id.TenantID, viewerID id.UserID) ([]*models.Meeting, error)
	Get(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID, viewerID id.UserID) (*models.Meeting, error)
	Cancel(ctx context.Context, tenantID id.TenantID, meetingID id.MeetingID, initiatorID id.UserID) (*models.Meeting, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the meeting routes. The router must already carry RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Route("/meetings", func(r chi.Router) {
		r.With(authmw.RequireRole(h.logger, id.RoleCoordinator, id.RoleAdmin)).Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/{meetingID}", h.HandleGet)
		r.Post("/{meetingID}/responses", h.HandleRespond)
		r.Post("/{meetingID}/cancel", h.HandleCancel)
	})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CreateMeetingRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	m, err := h.service.Create(ctx, service.CreateCommand{
		TenantID:    requestcontext.TenantID(ctx),
		InitiatorID: requestcontext.UserID(ctx),
		PartyAID:    req.partyA,
		PartyBID:    req.partyB,
		Type:        models.MeetingType(req.Type),
		ScheduledAt: req.ScheduledAt,
		Purpose:     req.Purpose,
	})
	if err != nil {
		h.writeError(ctx, w, "failed to create meeting", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toMeetingResponse(m))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ms, err := h.service.ListForViewer(ctx, requestcontext.TenantID(ctx), requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(ctx, w, "failed to list meetings", err)
		return
	}
	resp := MeetingListResponse{Meetings: make([]MeetingResponse, 0, len(ms))}
	for _, m := range ms {
		resp.Meetings = append(resp.Meetings, toMeetingResponse(m))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meetingID, ok := meetingIDFromPath(w, r)
	if !ok {
		return
	}
	m, err := h.service.Get(ctx, requestcontext.TenantID(ctx), meetingID, requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(ctx, w, "failed to load meeting", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMeetingResponse(m))
}

func (h *Handler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meetingID, ok := meetingIDFromPath(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RespondRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	m, err := h.service.Respond(ctx, requestcontext.TenantID(ctx), meetingID, requestcontext.UserID(ctx), req.toResponse())
	if err != nil {
		h.writeError(ctx, w, "failed to record meeting response", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMeetingResponse(m))
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meetingID, ok := meetingIDFromPath(w, r)
	if !ok {
		return
	}
	m, err := h.service.Cancel(ctx, requestcontext.TenantID(ctx), meetingID, requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(ctx, w, "failed to cancel meeting", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMeetingResponse(m))
}

func meetingIDFromPath(w http.ResponseWriter, r *http.Request) (id.MeetingID, bool) {
	meetingID, err := id.ParseMeetingID(chi.URLParam(r, "meetingID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.MeetingID{}, false
	}
	return meetingID, true
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
