// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package testserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

// prepare runs the checks shared by every sync route: the authenticated
// account and injected failures. It writes the error response itself and
// reports whether the handler should go on.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request, route string) (string, bool) {
	log := logger.FromRequest(r)

	account, ok := utils.GetAccountFromContext(r.Context())
	if !ok {
		log.Err(ErrNoAccount).Send()
		utils.WriteError(w, http.StatusUnauthorized, "", ErrNoAccount.Error())
		return "", false
	}

	if f, fail := s.nextFailure(route); fail {
		log.Warn().Str("route", route).Int("status", f.status).Str("code", f.code).
			Msg("injected failure")
		utils.WriteError(w, f.status, f.code, "injected failure")
		return "", false
	}
	return account, true
}

func writeStoreError(w http.ResponseWriter, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, ErrBirthdayMismatch):
		log.Warn().Err(err).Msg("client birthday is stale")
		utils.WriteError(w, http.StatusConflict, models.ErrorCodeNotMyBirthday, err.Error())
	case errors.Is(err, ErrInvalidMarker):
		log.Err(err).Msg("invalid progress marker")
		utils.WriteError(w, http.StatusBadRequest, "", err.Error())
	default:
		log.Err(err).Msg("unexpected store error")
		utils.WriteError(w, http.StatusInternalServerError, "", "")
	}
}

func (s *Server) getUpdates(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	account, ok := s.prepare(w, r, "updates")
	if !ok {
		return
	}

	var req models.GetUpdatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Err(err).Msg("Invalid JSON was passed")
		utils.WriteError(w, http.StatusBadRequest, "", "invalid JSON")
		return
	}

	resp, err := s.store.GetUpdates(account, req)
	if err != nil {
		writeStoreError(w, log, err)
		return
	}

	log.Debug().Str("account", account).Str("types", req.Types.String()).
		Int("entries", len(resp.Entries)).Int64("changes_remaining", resp.ChangesRemaining).
		Msg("updates served")
	utils.WriteJSON(w, resp, http.StatusOK)
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	account, ok := s.prepare(w, r, "commit")
	if !ok {
		return
	}

	var req models.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Err(err).Msg("Invalid JSON was passed")
		utils.WriteError(w, http.StatusBadRequest, "", "invalid JSON")
		return
	}

	resp, err := s.store.Commit(account, req)
	if err != nil {
		writeStoreError(w, log, err)
		return
	}

	log.Debug().Str("account", account).Str("client_id", req.ClientID).
		Int("entries", len(req.Entries)).Msg("commit applied")
	utils.WriteJSON(w, resp, http.StatusOK)
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	account, ok := s.prepare(w, r, "clear")
	if !ok {
		return
	}

	s.store.Clear(account)
	log.Info().Str("account", account).Msg("server data cleared")
	utils.WriteJSON(w, models.ClearServerDataResponse{Cleared: true}, http.StatusOK)
}
