package handler

import (
	"strings"

	dErrors "practicum/pkg/domain-errors"
)

const maxTokenLength = 1024

// ScanRequest carries a token read from a subject's device.
type ScanRequest struct {
	Token string `json:"token"`
}

func (r *ScanRequest) Validate() error {
	r.Token = strings.TrimSpace(r.Token)
	if r.Token == "" {
		return dErrors.New(dErrors.CodeValidation, "token is required")
	}
	if len(r.Token) > maxTokenLength {
		return dErrors.New(dErrors.CodeMalformedToken, "token is too long")
	}
	return nil
}
