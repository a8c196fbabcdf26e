package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decode parses the last JSON entry written to buf.
func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

// ── constructors ─────────────────────────────────────────────────────────────

func TestNewLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("syncer", &buf)

	l.Info().Msg("cycle done")

	entry := decode(t, &buf)
	assert.Equal(t, "syncer", entry["role"])
	assert.Equal(t, "cycle done", entry["message"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry["func"], "TestNewLogger_Fields")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestNewLogger_Stdout(t *testing.T) {
	l := NewLogger("testserver")
	require.NotNil(t, l)
	assert.Equal(t, "func", zerolog.CallerFieldName)
}

func TestNewClientLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	l, closer := NewClientLogger("syncclient", path, 0)

	l.Warn().Str("model_type", "bookmarks").Msg("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	entry := decode(t, bytes.NewBuffer(data))
	assert.Equal(t, "syncclient", entry["role"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "bookmarks", entry["model_type"])
}

func TestNop_DiscardsOutput(t *testing.T) {
	l := Nop()
	require.NotNil(t, l)
	assert.Equal(t, zerolog.Disabled, l.GetLevel())
}

// ── derived loggers ──────────────────────────────────────────────────────────

func TestDerivedLoggers(t *testing.T) {
	tests := []struct {
		name   string
		derive func(l *Logger) *Logger
		want   map[string]any
	}{
		{
			name:   "child inherits role",
			derive: func(l *Logger) *Logger { return l.GetChildLogger() },
			want:   map[string]any{"role": "engine"},
		},
		{
			name:   "component tag",
			derive: func(l *Logger) *Logger { return l.WithComponent("scheduler") },
			want:   map[string]any{"role": "engine", "component": "scheduler"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			parent := &Logger{zerolog.New(&buf).With().Str("role", "engine").Logger()}

			child := tt.derive(parent)
			require.NotSame(t, parent, child)
			child.Info().Msg("derived")

			entry := decode(t, &buf)
			for k, v := range tt.want {
				assert.Equal(t, v, entry[k], k)
			}
		})
	}
}

// ── context lookup ───────────────────────────────────────────────────────────

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).With().Str("trace_id", "abc").Logger()
	ctx := zl.WithContext(context.Background())

	FromContext(ctx).Info().Msg("from context")
	assert.Equal(t, "abc", decode(t, &buf)["trace_id"])

	assert.NotNil(t, FromContext(context.Background()))
}

func TestFromRequest(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).With().Str("trace_id", "req-1").Logger()

	req := httptest.NewRequest(http.MethodPost, "/api/commit", nil)
	req = req.WithContext(zl.WithContext(req.Context()))

	FromRequest(req).Info().Msg("from request")
	assert.Equal(t, "req-1", decode(t, &buf)["trace_id"])
}
