package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/frameparser/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.LoggingConfig
		wantErr bool
		check   func(t *testing.T, logger *logrus.Logger)
	}{
		{
			name:   "json format stdout",
			config: &config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.InfoLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok)
			},
		},
		{
			name:   "text format stderr",
			config: &config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.DebugLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.TextFormatter)
				assert.True(t, ok)
			},
		},
		{
			name: "file output",
			config: &config.LoggingConfig{
				Level:      "warn",
				Format:     "json",
				Output:     filepath.Join(t.TempDir(), "frameparser.log"),
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     7,
			},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.WarnLevel, logger.Level)
			},
		},
		{
			name:    "invalid log level",
			config:  &config.LoggingConfig{Level: "invalid", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, logger)
		})
	}
}

func newBufferLogger() (*bytes.Buffer, *logrus.Logger) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.DebugLevel)
	return &buf, l
}

func TestWithStream(t *testing.T) {
	buf, l := newBufferLogger()
	WithStream(l, "stream-1", "h264").Info("stream message")

	out := buf.String()
	assert.Contains(t, out, "stream-1")
	assert.Contains(t, out, `"codec":"h264"`)
}

func TestForComponent(t *testing.T) {
	buf, l := newBufferLogger()
	ForComponent(NewLogrusAdapter(logrus.NewEntry(l)), "h264").Info("component message")
	assert.Contains(t, buf.String(), `"component":"h264"`)

	assert.NotPanics(t, func() { ForComponent(nil, "x").Info("dropped") })
}

func TestContextHelpers(t *testing.T) {
	assert.Len(t, NewParserID(), 36)
	assert.NotEqual(t, NewParserID(), NewParserID())

	nl := NewNullLogger()
	ctx := WithLogger(context.Background(), nl)
	assert.Equal(t, nl, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestRequestLoggerMiddleware(t *testing.T) {
	buf, l := newBufferLogger()

	var got Logger
	h := RequestLoggerMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Contains(t, buf.String(), "req-42")
}

func TestRateLimitedLogger(t *testing.T) {
	buf, l := newBufferLogger()
	rl := NewRateLimitedLogger(NewLogrusAdapter(logrus.NewEntry(l)), 0.001, 2)

	logged := 0
	for i := 0; i < 10; i++ {
		if rl.WarnCategory(CategoryStreamError, "corrupt slice", map[string]interface{}{"i": i}) {
			logged++
		}
	}

	assert.Equal(t, 2, logged)
	assert.Equal(t, int64(8), rl.Dropped())
	assert.Contains(t, buf.String(), `"category":"stream_error"`)

	// Other categories have their own budget.
	assert.True(t, rl.DebugCategory(CategoryMarking, "evicted", nil))

	// Derived loggers share the budget.
	derived := rl.WithField("codec", "h264").(*RateLimitedLogger)
	assert.False(t, derived.WarnCategory(CategoryStreamError, "again", nil))
}

func TestDefaultFieldsHook(t *testing.T) {
	buf, l := newBufferLogger()
	l.AddHook(&defaultFieldsHook{fields: logrus.Fields{"service": "frameparser"}})

	l.Info("plain")
	l.WithField("service", "override").Info("explicit")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"service":"frameparser"`)
	assert.Contains(t, string(lines[1]), `"service":"override"`)
}

func TestLogrusAdapter(t *testing.T) {
	buf, l := newBufferLogger()
	log := NewLogrusAdapter(logrus.NewEntry(l))

	log.WithFields(map[string]interface{}{"a": 1}).WithField("b", 2).WithError(assert.AnError).Warnf("value %d", 3)
	out := buf.String()
	assert.Contains(t, out, `"a":1`)
	assert.Contains(t, out, `"b":2`)
	assert.Contains(t, out, `"error":"assert.AnError general error for testing"`)
	assert.Contains(t, out, "value 3")
}

func TestNullLogger(t *testing.T) {
	log := NewNullLogger()
	assert.NotPanics(t, func() {
		log.WithField("k", "v").WithError(assert.AnError).Error("dropped")
		log.Fatal("does not exit")
	})
}
