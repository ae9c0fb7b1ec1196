package jwttoken

import (
	authmw "practicum/pkg/platform/middleware/auth"
)

// bearerValidator narrows Claims to the identity the auth middleware puts on
// the request context.
type bearerValidator struct {
	service *JWTService
}

// Middleware returns the service as the auth middleware's validator.
func (s *JWTService) Middleware() authmw.JWTValidator {
	return bearerValidator{service: s}
}

func (v bearerValidator) ValidateToken(raw string) (*authmw.JWTClaims, error) {
	claims, err := v.service.ValidateToken(raw)
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{UserID: claims.UserID, TenantID: claims.TenantID, Role: claims.Role}, nil
}
