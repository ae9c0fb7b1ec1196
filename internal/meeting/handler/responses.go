package handler

import (
	"time"

	"practicum/internal/meeting/models"
)

type MeetingResponse struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id"`
	InitiatorID        string     `json:"initiator_id"`
	PartyAID           string     `json:"party_a_id"`
	PartyBID           string     `json:"party_b_id"`
	Type               string     `json:"type"`
	Purpose            string     `json:"purpose"`
	ScheduledAt        time.Time  `json:"scheduled_at"`
	PartyAStatus       string     `json:"party_a_status"`
	PartyBStatus       string     `json:"party_b_status"`
	OverallStatus      string     `json:"overall_status"`
	RescheduleProposal *time.Time `json:"reschedule_proposal,omitempty"`
	RescheduleBy       string     `json:"reschedule_by,omitempty"`
	DeclineReason      string     `json:"decline_reason,omitempty"`
	DeclinedBy         string     `json:"declined_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Version            int        `json:"version"`
}

func toMeetingResponse(m *models.Meeting) MeetingResponse {
	resp := MeetingResponse{
		ID:                 m.ID.String(),
		TenantID:           m.TenantID.String(),
		InitiatorID:        m.InitiatorID.String(),
		PartyAID:           m.PartyAID.String(),
		PartyBID:           m.PartyBID.String(),
		Type:               string(m.Type),
		Purpose:            m.Purpose,
		ScheduledAt:        m.ScheduledAt,
		PartyAStatus:       string(m.PartyAStatus),
		PartyBStatus:       string(m.PartyBStatus),
		OverallStatus:      string(m.OverallStatus),
		RescheduleProposal: m.RescheduleProposal,
		DeclineReason:      m.DeclineReason,
		CancelledAt:        m.CancelledAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		Version:            m.Version,
	}
	if m.DeclinedBy != nil {
		resp.DeclinedBy = m.DeclinedBy.String()
	}
	if m.RescheduleBy != nil {
		resp.RescheduleBy = m.RescheduleBy.String()
	}
	return resp
}

type MeetingListResponse struct {
	Meetings []MeetingResponse `json:"meetings"`
}
