// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package testserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
)

// auth is an HTTP middleware that enforces JWT-based authentication.
//
// It extracts the bearer token from the "Authorization" header, validates
// it with the server sign key and issuer, and stores the token subject (the
// account name) in the request context under [utils.AccountCtxKey].
//
// Requests with a missing, malformed, expired or forged token are rejected
// with HTTP 401. When RotateTokens is set, a fresh token for the same account
// is returned in the "Authorization" response header.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromRequest(r)

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Err(ErrEmptyAuthorizationHeader).Send()
			utils.WriteError(w, http.StatusUnauthorized, "", ErrEmptyAuthorizationHeader.Error())
			return
		}

		tokenString, err := utils.ParseBearerToken(authHeader)
		if err != nil {
			log.Err(err).Send()
			utils.WriteError(w, http.StatusUnauthorized, "", err.Error())
			return
		}

		account, err := utils.ValidateAndParseJWTToken(tokenString, s.cfg.SignKey, s.cfg.Issuer)
		if err != nil {
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				log.Err(err).Msg("token expired")
				utils.WriteError(w, http.StatusUnauthorized, "", ErrTokenIsExpired.Error())
			default:
				log.Err(err).Msg("error occurred during parsing token")
				utils.WriteError(w, http.StatusUnauthorized, "", http.StatusText(http.StatusUnauthorized))
			}
			return
		}

		if s.cfg.RotateTokens {
			fresh, err := s.IssueToken(account)
			if err != nil {
				log.Err(err).Msg("failed to rotate token")
			} else {
				w.Header().Set("Authorization", "Bearer "+fresh)
			}
		}

		ctx := context.WithValue(r.Context(), utils.AccountCtxKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
