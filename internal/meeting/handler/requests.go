package handler

import (
	"strings"
	"time"

	"practicum/internal/meeting/models"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
)

type CreateMeetingRequest struct {
	PartyAID    string    `json:"party_a_id"`
	PartyBID    string    `json:"party_b_id"`
	Type        string    `json:"type"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Purpose     string    `json:"purpose"`

	partyA id.UserID
	partyB id.UserID
}

func (r *CreateMeetingRequest) Validate() error {
	var err error
	if r.partyA, err = id.ParseUserID(strings.TrimSpace(r.PartyAID)); err != nil {
		return dErrors.New(dErrors.CodeValidation, "party_a_id must be a valid id")
	}
	if r.partyB, err = id.ParseUserID(strings.TrimSpace(r.PartyBID)); err != nil {
		return dErrors.New(dErrors.CodeValidation, "party_b_id must be a valid id")
	}
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	if !models.MeetingType(r.Type).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "type must be physical or remote")
	}
	if r.ScheduledAt.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "scheduled_at is required")
	}
	r.Purpose = strings.TrimSpace(r.Purpose)
	if r.Purpose == "" {
		return dErrors.New(dErrors.CodeValidation, "purpose is required")
	}
	return nil
}

type RespondRequest struct {
	Status       string     `json:"status"`
	Note         string     `json:"note,omitempty"`
	ProposedTime *time.Time `json:"proposed_time,omitempty"`
}

// Validate only normalizes; the per-status rules live on models.Response.
func (r *RespondRequest) Validate() error {
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	if r.Status == "" {
		return dErrors.New(dErrors.CodeValidation, "status is required")
	}
	return nil
}

func (r *RespondRequest) toResponse() models.Response {
	return models.Response{
		Status:       models.PartyStatus(r.Status),
		Note:         r.Note,
		ProposedTime: r.ProposedTime,
	}
}
