package testserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

// commitHashing checks the integrity hash of a commit request against its
// entries. It is a no-op when the server has no hash key.
func (s *Server) commitHashing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.hasher.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		log := logger.FromRequest(r)

		log.Debug().Str("func", "*Server.commitHashing").Msg("checking hash begins")

		// read bytes from body
		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Err(err).Str("func", "*Server.commitHashing").Msg("failed to read request body")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		// restore request body
		r.Body = io.NopCloser(bytes.NewReader(body))

		var req models.CommitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			log.Err(err).Str("func", "*Server.commitHashing").Msg("failed to decode JSON")
			utils.WriteError(w, http.StatusBadRequest, "", "invalid JSON")
			return
		}

		if !s.hasher.Verify(req.Entries, req.Hash) {
			log.Error().Str("func", "*Server.commitHashing").
				Str("hash from request", req.Hash).
				Msg("hashes are not equal")
			utils.WriteError(w, http.StatusBadRequest, models.ErrorCodeHashMismatch, "integrity check failed")
			return
		}
		if req.Length != len(req.Entries) {
			log.Error().Str("func", "*Server.commitHashing").
				Int("length", req.Length).Int("entries", len(req.Entries)).
				Msg("entry count does not match length")
			utils.WriteError(w, http.StatusBadRequest, models.ErrorCodeHashMismatch, "entry count mismatch")
			return
		}

		next.ServeHTTP(w, r)
	})
}
