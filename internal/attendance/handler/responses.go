package handler

import (
	"time"

	"practicum/internal/attendance/models"
)

type TokenResponse struct {
	Token     string    `json:"token"`
	SubjectID string    `json:"subject_id"`
	TenantID  string    `json:"tenant_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	RotateAt  time.Time `json:"rotate_at"`
}

func toTokenResponse(t *models.IssuedToken) TokenResponse {
	return TokenResponse{
		Token:     t.Token,
		SubjectID: t.SubjectID.String(),
		TenantID:  t.TenantID.String(),
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
		RotateAt:  t.RotateAt,
	}
}

type ScanResponse struct {
	ScanID    string    `json:"scan_id"`
	SubjectID string    `json:"subject_id"`
	TenantID  string    `json:"tenant_id"`
	ScannedBy string    `json:"scanned_by"`
	Result    string    `json:"result"`
	ScannedAt time.Time `json:"scanned_at"`
	Device    string    `json:"device,omitempty"`
}

func toScanResponse(r models.ScanRecord) ScanResponse {
	return ScanResponse{
		ScanID:    r.ID.String(),
		SubjectID: r.SubjectID.String(),
		TenantID:  r.TenantID.String(),
		ScannedBy: r.ScannedBy.String(),
		Result:    string(r.Result),
		ScannedAt: r.ScannedAt,
		Device:    r.Device,
	}
}

type ScanHistoryResponse struct {
	SubjectID string         `json:"subject_id"`
	Scans     []ScanResponse `json:"scans"`
}

type SubjectPresenceResponse struct {
	SubjectID  string     `json:"subject_id"`
	Status     string     `json:"status"`
	LastScanAt *time.Time `json:"last_scan_at,omitempty"`
}

func toPresenceResponse(p models.SubjectPresence) SubjectPresenceResponse {
	return SubjectPresenceResponse{
		SubjectID:  p.SubjectID.String(),
		Status:     string(p.Status),
		LastScanAt: p.LastScanAt,
	}
}

type PresenceResponse struct {
	TenantID string                    `json:"tenant_id"`
	AsOf     time.Time                 `json:"as_of"`
	Subjects []SubjectPresenceResponse `json:"subjects"`
}
