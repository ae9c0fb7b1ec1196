package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"practicum/internal/attendance/models"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
)

// Issuer mints tokens. It holds no per-subject state: every call is
// independent and the caller decides when to rotate.
type Issuer struct {
	codec    *Codec
	rotation time.Duration
	rand     io.Reader
}

type IssuerOption func(*Issuer)

// WithRandom replaces the nonce source. Tests only.
func WithRandom(r io.Reader) IssuerOption {
	return func(i *Issuer) { i.rand = r }
}

// NewIssuer returns an issuer whose clients rotate every rotation interval.
// rotation must be shorter than the codec window so codes overlap.
func NewIssuer(codec *Codec, rotation time.Duration, opts ...IssuerOption) (*Issuer, error) {
	if codec == nil {
		return nil, errors.New("codec is required")
	}
	if rotation <= 0 || rotation >= codec.Window() {
		return nil, fmt.Errorf("rotation %s must be positive and shorter than window %s", rotation, codec.Window())
	}
	i := &Issuer{codec: codec, rotation: rotation, rand: rand.Reader}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue builds a token for subjectID valid from now for exactly one window.
func (i *Issuer) Issue(subjectID id.UserID, tenantID id.TenantID, now time.Time) (models.VerificationToken, error) {
	if subjectID.IsNil() {
		return models.VerificationToken{}, dErrors.New(dErrors.CodeValidation, "subject id is required")
	}
	if tenantID.IsNil() {
		return models.VerificationToken{}, dErrors.New(dErrors.CodeValidation, "tenant id is required")
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(i.rand, nonce); err != nil {
		return models.VerificationToken{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate nonce")
	}
	// The wire format carries millisecond precision.
	issuedAt := now.UTC().Truncate(time.Millisecond)
	return models.VerificationToken{
		SubjectID: subjectID,
		TenantID:  tenantID,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(i.codec.Window()),
		Nonce:     b64.EncodeToString(nonce),
	}, nil
}

// IssueEncoded issues and encodes a token in one step.
func (i *Issuer) IssueEncoded(subjectID id.UserID, tenantID id.TenantID, now time.Time) (*models.IssuedToken, error) {
	tok, err := i.Issue(subjectID, tenantID, now)
	if err != nil {
		return nil, err
	}
	raw, err := i.codec.Encode(tok)
	if err != nil {
		return nil, err
	}
	return &models.IssuedToken{
		Token:     raw,
		SubjectID: tok.SubjectID,
		TenantID:  tok.TenantID,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
		RotateAt:  tok.IssuedAt.Add(i.rotation),
	}, nil
}
