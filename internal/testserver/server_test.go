// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package testserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

const (
	testAccount = "alice@example.com"
	testHashKey = "testhashkey"
)

// startServer runs srv behind httptest and returns an adapter logged in as
// testAccount.
func startServer(t *testing.T, cfg Config) (*Server, adapter.SyncServer, string) {
	t.Helper()
	srv := New(cfg, logger.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := newClient(t, ts.URL, cfg.HashKey)
	token, err := srv.IssueToken(testAccount)
	require.NoError(t, err)
	client.SetCredentials(models.Credentials{Email: testAccount, SyncToken: token})
	return srv, client, ts.URL
}

func newClient(t *testing.T, url, hashKey string) adapter.SyncServer {
	t.Helper()
	client, err := adapter.NewHTTPSyncServer(
		config.ClientAdapter{HTTPAddress: url, RequestTimeout: 5 * time.Second},
		config.ClientApp{HashKey: hashKey, UserAgent: "testserver-test"},
		logger.Nop(),
	)
	require.NoError(t, err)
	return client
}

func bookmark(id, name string) models.SyncEntity {
	return models.SyncEntity{
		ID:        id,
		ParentID:  "root-bookmarks",
		Name:      name,
		Specifics: models.EntitySpecifics{Type: models.Bookmarks, Payload: []byte(name)},
	}
}

// ── Authentication ──────────────────────────────────────────────────────────

func TestServer_RequiresAuthorization(t *testing.T) {
	_, _, url := startServer(t, Config{})

	resp, err := http.Post(url+adapter.RouteGetUpdates, "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_ExpiredToken(t *testing.T) {
	srv, client, _ := startServer(t, Config{})

	token, err := srv.IssueExpiredToken(testAccount)
	require.NoError(t, err)
	client.SetCredentials(models.Credentials{Email: testAccount, SyncToken: token})

	_, err = client.GetUpdates(context.Background(), models.GetUpdatesRequest{
		Types: models.NewModelTypeSet(models.Bookmarks),
	})
	require.ErrorIs(t, err, adapter.ErrUnauthorized)
}

func TestServer_ForgedToken(t *testing.T) {
	_, client, _ := startServer(t, Config{SignKey: "server-key"})

	other := New(Config{SignKey: "other-key"}, logger.Nop())
	token, err := other.IssueToken(testAccount)
	require.NoError(t, err)
	client.SetCredentials(models.Credentials{Email: testAccount, SyncToken: token})

	err = client.ClearServerData(context.Background())
	require.ErrorIs(t, err, adapter.ErrUnauthorized)
}

func TestServer_TokenRotation(t *testing.T) {
	_, client, _ := startServer(t, Config{RotateTokens: true})

	rotated := make(chan string, 1)
	client.OnTokenUpdated(func(token string) {
		select {
		case rotated <- token:
		default:
		}
	})

	// tokens issued within the same second are identical; wait for a new iat
	time.Sleep(1100 * time.Millisecond)
	_, err := client.GetUpdates(context.Background(), models.GetUpdatesRequest{
		Types: models.NewModelTypeSet(models.Bookmarks),
	})
	require.NoError(t, err)

	select {
	case token := <-rotated:
		assert.NotEmpty(t, token)
	case <-time.After(time.Second):
		t.Fatal("token was not rotated")
	}
}

// ── Routing ─────────────────────────────────────────────────────────────────

func TestServer_WrongMethodIsNotFound(t *testing.T) {
	_, _, url := startServer(t, Config{})

	resp, err := http.Get(url + adapter.RouteCommit)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ── GetUpdates ──────────────────────────────────────────────────────────────

func TestServer_GetUpdates_PermanentItems(t *testing.T) {
	_, client, _ := startServer(t, Config{})

	resp, err := client.GetUpdates(context.Background(), models.GetUpdatesRequest{
		Types: models.NewModelTypeSet(models.Bookmarks, models.Nigori),
	})
	require.NoError(t, err)

	require.Len(t, resp.Entries, 2)
	tags := []string{resp.Entries[0].UniqueTag, resp.Entries[1].UniqueTag}
	assert.ElementsMatch(t, []string{models.Bookmarks.RootTag(), models.Nigori.RootTag()}, tags)
	assert.NotEmpty(t, resp.Birthday)
	assert.Zero(t, resp.ChangesRemaining)
}

func TestServer_GetUpdates_Paging(t *testing.T) {
	srv, client, _ := startServer(t, Config{BatchSize: 3})
	for _, name := range []string{"a", "b", "c", "d"} {
		srv.Store().Put(testAccount, bookmark("", name))
	}
	types := models.NewModelTypeSet(models.Bookmarks)

	first, err := client.GetUpdates(context.Background(), models.GetUpdatesRequest{Types: types})
	require.NoError(t, err)
	assert.Len(t, first.Entries, 3)
	assert.EqualValues(t, 2, first.ChangesRemaining)

	second, err := client.GetUpdates(context.Background(), models.GetUpdatesRequest{
		Types:           types,
		ProgressMarkers: first.ProgressMarkers,
		Birthday:        first.Birthday,
	})
	require.NoError(t, err)
	assert.Len(t, second.Entries, 2)
	assert.Zero(t, second.ChangesRemaining)

	third, err := client.GetUpdates(context.Background(), models.GetUpdatesRequest{
		Types:           types,
		ProgressMarkers: second.ProgressMarkers,
		Birthday:        second.Birthday,
	})
	require.NoError(t, err)
	assert.Empty(t, third.Entries)
}

func TestServer_GetUpdates_InvalidMarker(t *testing.T) {
	_, client, _ := startServer(t, Config{})

	_, err := client.GetUpdates(context.Background(), models.GetUpdatesRequest{
		Types:           models.NewModelTypeSet(models.Bookmarks),
		ProgressMarkers: map[string]string{"bookmarks": "not-a-number"},
	})
	require.ErrorIs(t, err, adapter.ErrBadRequest)
}

func TestServer_BirthdayMismatchAfterClear(t *testing.T) {
	_, client, _ := startServer(t, Config{})
	ctx := context.Background()

	resp, err := client.GetUpdates(ctx, models.GetUpdatesRequest{Types: models.NewModelTypeSet(models.Bookmarks)})
	require.NoError(t, err)

	require.NoError(t, client.ClearServerData(ctx))

	_, err = client.GetUpdates(ctx, models.GetUpdatesRequest{
		Types:    models.NewModelTypeSet(models.Bookmarks),
		Birthday: resp.Birthday,
	})
	require.ErrorIs(t, err, adapter.ErrNotMyBirthday)
}

// ── Commit ──────────────────────────────────────────────────────────────────

func TestServer_Commit(t *testing.T) {
	srv, client, _ := startServer(t, Config{HashKey: testHashKey})
	ctx := context.Background()

	folder := bookmark("c-folder", "folder")
	folder.Folder = true
	folder.OriginatorClientItemID = 2
	child := bookmark("c-child", "child")
	child.ParentID = "c-folder"
	child.OriginatorClientItemID = 3

	resp, err := client.Commit(ctx, models.CommitRequest{ClientID: "cache-1", Entries: []models.SyncEntity{folder, child}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Equal(t, models.CommitSuccess, r.ResponseType)
		assert.NotEmpty(t, r.ID)
		assert.Positive(t, r.Version)
	}
	assert.EqualValues(t, 2, resp.Results[0].OriginatorClientItemID)

	stored, ok := srv.Store().Entity(testAccount, resp.Results[1].ID)
	require.True(t, ok)
	assert.Equal(t, resp.Results[0].ID, stored.ParentID, "client parent id must be resolved")

	t.Run("stale version conflicts", func(t *testing.T) {
		stale := child
		stale.ID = resp.Results[1].ID
		stale.Version = resp.Results[1].Version - 1

		out, err := client.Commit(ctx, models.CommitRequest{ClientID: "cache-1", Entries: []models.SyncEntity{stale}})
		require.NoError(t, err)
		require.Len(t, out.Results, 1)
		assert.Equal(t, models.CommitConflict, out.Results[0].ResponseType)
		assert.Equal(t, resp.Results[1].Version, out.Results[0].Version)
	})

	t.Run("current version updates", func(t *testing.T) {
		edit := child
		edit.ID = resp.Results[1].ID
		edit.ParentID = resp.Results[0].ID
		edit.Version = resp.Results[1].Version
		edit.Name = "renamed"

		out, err := client.Commit(ctx, models.CommitRequest{ClientID: "cache-1", Entries: []models.SyncEntity{edit}})
		require.NoError(t, err)
		require.Len(t, out.Results, 1)
		assert.Equal(t, models.CommitSuccess, out.Results[0].ResponseType)
		assert.Greater(t, out.Results[0].Version, resp.Results[1].Version)
	})

	t.Run("missing parent conflicts", func(t *testing.T) {
		orphan := bookmark("c-orphan", "orphan")
		orphan.ParentID = "no-such-folder"

		out, err := client.Commit(ctx, models.CommitRequest{ClientID: "cache-1", Entries: []models.SyncEntity{orphan}})
		require.NoError(t, err)
		assert.Equal(t, models.CommitConflict, out.Results[0].ResponseType)
	})

	t.Run("untyped entry is invalid", func(t *testing.T) {
		out, err := client.Commit(ctx, models.CommitRequest{ClientID: "cache-1", Entries: []models.SyncEntity{{ID: "c-x"}}})
		require.NoError(t, err)
		assert.Equal(t, models.CommitInvalidMessage, out.Results[0].ResponseType)
	})
}

func TestServer_Commit_PermanentItemsSurvive(t *testing.T) {
	srv, client, _ := startServer(t, Config{})

	root, ok := srv.Store().Entity(testAccount, "root-bookmarks")
	require.True(t, ok)
	root.Deleted = true

	out, err := client.Commit(context.Background(), models.CommitRequest{ClientID: "cache-1", Entries: []models.SyncEntity{root}})
	require.NoError(t, err)
	require.Equal(t, models.CommitSuccess, out.Results[0].ResponseType)

	after, ok := srv.Store().Entity(testAccount, "root-bookmarks")
	require.True(t, ok)
	assert.False(t, after.Deleted)
	assert.Equal(t, models.Bookmarks.RootTag(), after.UniqueTag)
}

func TestServer_Commit_HashMismatch(t *testing.T) {
	srv, _, url := startServer(t, Config{HashKey: testHashKey})

	client := newClient(t, url, "another-key")
	token, err := srv.IssueToken(testAccount)
	require.NoError(t, err)
	client.SetCredentials(models.Credentials{Email: testAccount, SyncToken: token})

	_, err = client.Commit(context.Background(), models.CommitRequest{
		ClientID: "cache-1",
		Entries:  []models.SyncEntity{bookmark("c-1", "x")},
	})
	require.ErrorIs(t, err, adapter.ErrBadRequest)
	assert.Empty(t, srv.Store().Entities(testAccount, models.Bookmarks))
}

func TestServer_Commit_LengthMismatch(t *testing.T) {
	srv, _, url := startServer(t, Config{HashKey: testHashKey})
	token, err := srv.IssueToken(testAccount)
	require.NoError(t, err)

	body, err := json.Marshal(models.CommitRequest{Entries: []models.SyncEntity{bookmark("c-1", "x")}, Length: 5})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url+adapter.RouteCommit, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ── Injected failures ───────────────────────────────────────────────────────

func TestServer_FailNext(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    string
		wantErr error
	}{
		{name: "server error", status: http.StatusServiceUnavailable, wantErr: adapter.ErrServerError},
		{name: "throttled", status: http.StatusTooManyRequests, code: models.ErrorCodeThrottled, wantErr: adapter.ErrThrottled},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: adapter.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, client, _ := startServer(t, Config{})
			srv.FailNext(1, tt.status, tt.code)
			req := models.GetUpdatesRequest{Types: models.NewModelTypeSet(models.Bookmarks)}

			_, err := client.GetUpdates(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)

			_, err = client.GetUpdates(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, 2, srv.Requests("updates"))
		})
	}
}

func TestServer_StopSyncing(t *testing.T) {
	srv, client, _ := startServer(t, Config{})
	srv.SetStopSyncing(true)

	_, err := client.Commit(context.Background(), models.CommitRequest{ClientID: "cache-1"})
	require.ErrorIs(t, err, adapter.ErrStopSyncing)

	srv.SetStopSyncing(false)
	_, err = client.Commit(context.Background(), models.CommitRequest{ClientID: "cache-1"})
	require.NoError(t, err)
}
