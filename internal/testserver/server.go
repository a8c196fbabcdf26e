// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package testserver implements an in-memory sync server speaking the HTTP
// API of the adapter package. It backs the end-to-end tests of the engine
// and can be run locally next to cmd/syncclient.
//
// Accounts are created on first use. Every account starts with the
// permanent top-level folder of each type and the Nigori node. Tokens are
// HS256 JWTs whose subject is the account name.
package testserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

const (
	defaultIssuer   = "go-sync-engine-testserver"
	defaultTokenTTL = time.Hour
)

// Config tunes a Server.
type Config struct {
	// SignKey signs and validates tokens.
	SignKey string
	// Issuer is the iss claim of issued tokens.
	Issuer string
	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration
	// HashKey, when set, must match the clients' hash key; commits with a
	// wrong hash are rejected.
	HashKey string
	// RotateTokens makes every authenticated response carry a fresh token.
	RotateTokens bool
	// BatchSize caps the entries of one GetUpdates response.
	BatchSize int
}

// failure is an injected error response.
type failure struct {
	status int
	code   string
}

// Server is the in-memory sync server.
type Server struct {
	cfg    Config
	store  *Store
	hasher *utils.Hasher
	logger *logger.Logger

	mu          sync.Mutex
	failures    []failure
	stopSyncing bool
	requests    map[string]int
}

// New constructs a Server. Zero Config fields get usable defaults.
func New(cfg Config, log *logger.Logger) *Server {
	if cfg.SignKey == "" {
		cfg.SignKey = "testserver-secret"
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	log.Info().Str("func", "testserver.New").Bool("rotate_tokens", cfg.RotateTokens).
		Int("batch_size", cfg.BatchSize).Msg("sync test server created")
	return &Server{
		cfg:      cfg,
		store:    NewStore(cfg.BatchSize),
		hasher:   utils.NewHasher(cfg.HashKey),
		logger:   log,
		requests: make(map[string]int),
	}
}

// Store exposes the server state to tests.
func (s *Server) Store() *Store {
	return s.store
}

// IssueToken returns a token for account.
func (s *Server) IssueToken(account string) (string, error) {
	return utils.GenerateJWTToken(s.cfg.Issuer, account, s.cfg.TokenTTL, s.cfg.SignKey)
}

// IssueExpiredToken returns a token for account that is already expired.
func (s *Server) IssueExpiredToken(account string) (string, error) {
	return utils.GenerateJWTToken(s.cfg.Issuer, account, -time.Minute, s.cfg.SignKey)
}

// FailNext makes the next n sync requests fail with status and, when code is
// not empty, the given error code.
func (s *Server) FailNext(n, status int, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.failures = append(s.failures, failure{status: status, code: code})
	}
}

// SetStopSyncing makes every sync request answer with stop_syncing.
func (s *Server) SetStopSyncing(stop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopSyncing = stop
}

// Requests returns how many requests reached route.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

func (s *Server) nextFailure(route string) (failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[route]++
	if s.stopSyncing {
		return failure{status: http.StatusGone, code: models.ErrorCodeStopSyncing}, true
	}
	if len(s.failures) == 0 {
		return failure{}, false
	}
	f := s.failures[0]
	s.failures = s.failures[1:]
	return f, true
}
