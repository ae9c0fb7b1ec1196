// Package token issues and encodes rotating attendance tokens.
//
// A token travels as base64url(payload) "." base64url(tag), where payload is
// compact JSON and tag is HMAC-SHA256 over the raw payload bytes. The HMAC key
// is derived per tenant with HKDF from a single master secret, so a token
// minted for one tenant never verifies under another tenant's key.
package token

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"practicum/internal/attendance/models"
	id "practicum/pkg/domain"
	dErrors "practicum/pkg/domain-errors"
)

const (
	keyInfoPrefix = "practicum/attendance-token/"
	keySize       = 32
	nonceSize     = 16
	// Generous upper bound for a QR payload; anything longer is not ours.
	maxEncodedLen = 1024
)

var b64 = base64.RawURLEncoding

type payload struct {
	Sub string `json:"sub"`
	Ten string `json:"ten"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
	N   string `json:"n"`
}

// Codec encodes and verifies tokens. Safe for concurrent use.
type Codec struct {
	master []byte
	window time.Duration
	keys   sync.Map // id.TenantID -> []byte
}

// NewCodec returns a codec for tokens whose lifetime is exactly window.
func NewCodec(masterSecret string, window time.Duration) (*Codec, error) {
	if masterSecret == "" {
		return nil, errors.New("token master secret is required")
	}
	if window <= 0 {
		return nil, errors.New("token window must be positive")
	}
	return &Codec{master: []byte(masterSecret), window: window}, nil
}

// Window is the fixed lifetime of every token this codec accepts.
func (c *Codec) Window() time.Duration {
	return c.window
}

func (c *Codec) tenantKey(tenantID id.TenantID) ([]byte, error) {
	if k, ok := c.keys.Load(tenantID); ok {
		return k.([]byte), nil
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, c.master, nil, []byte(keyInfoPrefix+tenantID.String()))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	actual, _ := c.keys.LoadOrStore(tenantID, key)
	return actual.([]byte), nil
}

func (c *Codec) sign(tenantID id.TenantID, msg []byte) ([]byte, error) {
	key, err := c.tenantKey(tenantID)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil), nil
}

// Encode renders token as an opaque, tamper-evident string.
func (c *Codec) Encode(tok models.VerificationToken) (string, error) {
	if tok.SubjectID.IsNil() || tok.TenantID.IsNil() || tok.Nonce == "" {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "token requires subject, tenant and nonce")
	}
	body, err := json.Marshal(payload{
		Sub: tok.SubjectID.String(),
		Ten: tok.TenantID.String(),
		Iat: tok.IssuedAt.UnixMilli(),
		Exp: tok.ExpiresAt.UnixMilli(),
		N:   tok.Nonce,
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode token")
	}
	tag, err := c.sign(tok.TenantID, body)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return b64.EncodeToString(body) + "." + b64.EncodeToString(tag), nil
}

func malformed(msg string) error {
	return dErrors.New(dErrors.CodeMalformedToken, msg)
}

// Decode parses raw and verifies its integrity tag with the key of the tenant
// named in the payload. It does not check expiry, the validating tenant or replay.
// Every failure is reported as CodeMalformedToken.
func (c *Codec) Decode(raw string) (models.VerificationToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxEncodedLen {
		return models.VerificationToken{}, malformed("token is empty or too long")
	}
	bodyPart, tagPart, ok := strings.Cut(raw, ".")
	if !ok || strings.Contains(tagPart, ".") {
		return models.VerificationToken{}, malformed("token must have two segments")
	}
	body, err := b64.DecodeString(bodyPart)
	if err != nil {
		return models.VerificationToken{}, malformed("token payload is not base64url")
	}
	tag, err := b64.DecodeString(tagPart)
	if err != nil || len(tag) != sha256.Size {
		return models.VerificationToken{}, malformed("token tag is invalid")
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return models.VerificationToken{}, malformed("token payload is not valid JSON")
	}

	subject, err := uuid.Parse(p.Sub)
	if err != nil || subject == uuid.Nil {
		return models.VerificationToken{}, malformed("token subject is invalid")
	}
	tenant, err := uuid.Parse(p.Ten)
	if err != nil || tenant == uuid.Nil {
		return models.VerificationToken{}, malformed("token tenant is invalid")
	}
	if n, err := b64.DecodeString(p.N); err != nil || len(n) != nonceSize {
		return models.VerificationToken{}, malformed("token nonce is invalid")
	}

	expected, err := c.sign(id.TenantID(tenant), body)
	if err != nil {
		return models.VerificationToken{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive token key")
	}
	if !hmac.Equal(expected, tag) {
		return models.VerificationToken{}, malformed("token integrity check failed")
	}

	tok := models.VerificationToken{
		SubjectID: id.UserID(subject),
		TenantID:  id.TenantID(tenant),
		IssuedAt:  time.UnixMilli(p.Iat).UTC(),
		ExpiresAt: time.UnixMilli(p.Exp).UTC(),
		Nonce:     p.N,
	}
	if tok.Lifetime() != c.window {
		return models.VerificationToken{}, malformed("token lifetime does not match the rotation window")
	}
	return tok, nil
}
