package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

// Sync API routes.
const (
	RouteGetUpdates = "/api/sync/updates"
	RouteCommit     = "/api/sync/commit"
	RouteClear      = "/api/sync/clear"
)

type httpSyncServer struct {
	client *utils.HTTPClient
	hasher *utils.Hasher

	mu      sync.RWMutex
	creds   models.Credentials
	onToken func(token string)

	logger *logger.Logger
}

// NewHTTPSyncServer constructs an HTTP/JSON implementation of [SyncServer].
// It normalises and validates the base URL from adapterCfg.HTTPAddress,
// configures the underlying HTTP client with the resolved base URL, user
// agent and request timeout, and keys the commit integrity hash with
// appCfg.HashKey.
//
// Returns an error if adapterCfg.HTTPAddress is empty or cannot be parsed as a
// valid URL.
func NewHTTPSyncServer(adapterCfg config.ClientAdapter, appCfg config.ClientApp, log *logger.Logger) (SyncServer, error) {
	baseURL, err := normalizeBaseURL(adapterCfg.HTTPAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid adapter http address: %w", err)
	}

	return &httpSyncServer{
		client: utils.NewHTTPClient(baseURL, appCfg.UserAgent, adapterCfg.RequestTimeout),
		hasher: utils.NewHasher(appCfg.HashKey),
		logger: log,
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty address")
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must include host and scheme")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// SetCredentials implements [SyncServer].
func (h *httpSyncServer) SetCredentials(creds models.Credentials) {
	creds.SyncToken = strings.TrimSpace(creds.SyncToken)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.creds = creds
}

// OnTokenUpdated implements [SyncServer].
func (h *httpSyncServer) OnTokenUpdated(fn func(token string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onToken = fn
}

func (h *httpSyncServer) credentials() models.Credentials {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.creds
}

// GetUpdates implements [SyncServer]. It POSTs req to
// POST /api/sync/updates and decodes one batch of server changes.
func (h *httpSyncServer) GetUpdates(ctx context.Context, req models.GetUpdatesRequest) (models.GetUpdatesResponse, error) {
	var out models.GetUpdatesResponse

	resp, err := h.authedRequest(ctx).
		SetBody(req).
		SetResult(&out).
		Post(RouteGetUpdates)
	if err != nil {
		h.logger.Err(err).Str("func", "httpSyncServer.GetUpdates").Msg("get updates request failed")
		return models.GetUpdatesResponse{}, fmt.Errorf("%w: get updates request: %w", ErrServerUnreachable, err)
	}
	if err = h.handleResponse(resp); err != nil {
		return models.GetUpdatesResponse{}, err
	}

	h.logger.Debug().Str("func", "httpSyncServer.GetUpdates").
		Str("types", req.Types.String()).
		Int("entries", len(out.Entries)).
		Int64("changes_remaining", out.ChangesRemaining).
		Msg("updates downloaded")
	return out, nil
}

// Commit implements [SyncServer]. It computes the integrity hash over
// req.Entries, sets req.Length, and POSTs the request to
// POST /api/sync/commit.
func (h *httpSyncServer) Commit(ctx context.Context, req models.CommitRequest) (models.CommitResponse, error) {
	hash, err := h.hasher.HashJSON(req.Entries)
	if err != nil {
		return models.CommitResponse{}, fmt.Errorf("hash commit entries: %w", err)
	}
	req.Hash = hash
	req.Length = len(req.Entries)

	var out models.CommitResponse
	resp, err := h.authedRequest(ctx).
		SetBody(req).
		SetResult(&out).
		Post(RouteCommit)
	if err != nil {
		h.logger.Err(err).Str("func", "httpSyncServer.Commit").Msg("commit request failed")
		return models.CommitResponse{}, fmt.Errorf("%w: commit request: %w", ErrServerUnreachable, err)
	}
	if err = h.handleResponse(resp); err != nil {
		return models.CommitResponse{}, err
	}
	if len(out.Results) != len(req.Entries) {
		return models.CommitResponse{}, fmt.Errorf("%w: %d results for %d entries",
			ErrServerError, len(out.Results), len(req.Entries))
	}
	return out, nil
}

// ClearServerData implements [SyncServer]. It sends
// POST /api/sync/clear.
func (h *httpSyncServer) ClearServerData(ctx context.Context) error {
	var out models.ClearServerDataResponse
	resp, err := h.authedRequest(ctx).
		SetResult(&out).
		Post(RouteClear)
	if err != nil {
		return fmt.Errorf("%w: clear server data request: %w", ErrServerUnreachable, err)
	}
	if err = h.handleResponse(resp); err != nil {
		return err
	}
	if !out.Cleared {
		return fmt.Errorf("%w: server did not clear data", ErrServerError)
	}
	return nil
}

func (h *httpSyncServer) authedRequest(ctx context.Context) *resty.Request {
	req := h.client.R().SetContext(ctx)
	if token := h.credentials().SyncToken; token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}
	return req
}

// handleResponse maps the status and picks up a rotated token.
func (h *httpSyncServer) handleResponse(resp *resty.Response) error {
	if err := mapHTTPError(resp); err != nil {
		h.logger.Warn().Err(err).Str("func", "httpSyncServer.handleResponse").
			Int("status", resp.StatusCode()).Msg("sync server returned an error")
		return err
	}

	header := resp.Header().Get("Authorization")
	if header == "" {
		return nil
	}
	token, err := utils.ParseBearerToken(header)
	if err != nil {
		h.logger.Warn().Err(err).Str("func", "httpSyncServer.handleResponse").Msg("ignoring malformed rotated token")
		return nil
	}
	h.rotateToken(token)
	return nil
}

// rotateToken installs a server-issued token once its subject is known to be
// the configured account.
func (h *httpSyncServer) rotateToken(token string) {
	subject, err := utils.ParseSubjectFromJWT(token)

	h.mu.Lock()
	if token == h.creds.SyncToken {
		h.mu.Unlock()
		return
	}
	if err != nil || subject != h.creds.Email {
		h.mu.Unlock()
		h.logger.Warn().Err(err).Str("func", "httpSyncServer.rotateToken").
			Str("subject", subject).Msg("rotated token does not belong to this account")
		return
	}
	h.creds.SyncToken = token
	fn := h.onToken
	h.mu.Unlock()

	h.logger.Info().Str("func", "httpSyncServer.rotateToken").Msg("sync token rotated")
	if fn != nil {
		fn(token)
	}
}
