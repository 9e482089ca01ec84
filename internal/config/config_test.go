package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return Default()
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "h264", cfg.Parser.Codec)
	assert.Equal(t, 20, cfg.Parser.DecodeBufferCount)
	assert.Equal(t, 3, cfg.Parser.ManifestorReserve)
	assert.Equal(t, "disabled", cfg.Policy.DecimateDecoderOutput)
	assert.Equal(t, time.Hour, cfg.Events.Redis.TTL)
	assert.Equal(t, 30*time.Second, cfg.Metrics.HealthInterval)
	assert.Equal(t, 64*1024, cfg.Parser.ReadChunkSize)
	assert.Equal(t, int64(64*1024*1024), cfg.Parser.ReverseSpoolMemory)
	assert.Empty(t, cfg.Parser.ReverseSpoolDir)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "unsupported codec",
			mutate:  func(c *Config) { c.Parser.Codec = "vp9" },
			wantErr: true,
			errMsg:  "unsupported codec",
		},
		{
			name: "reserve swallows decode buffers",
			mutate: func(c *Config) {
				c.Parser.DecodeBufferCount = 3
				c.Parser.ManifestorReserve = 3
			},
			wantErr: true,
			errMsg:  "must exceed manifestor_reserve",
		},
		{
			name:    "zero pool",
			mutate:  func(c *Config) { c.Parser.FrameParameterPoolSize = 0 },
			wantErr: true,
			errMsg:  "frame_parameter_pool_size",
		},
		{
			name:    "negative spool memory",
			mutate:  func(c *Config) { c.Parser.ReverseSpoolMemory = -1 },
			wantErr: true,
			errMsg:  "reverse_spool_memory",
		},
		{
			name:    "zero read chunk",
			mutate:  func(c *Config) { c.Parser.ReadChunkSize = 0 },
			wantErr: true,
			errMsg:  "read_chunk_size",
		},
		{
			name:    "zero health interval",
			mutate:  func(c *Config) { c.Metrics.HealthInterval = 0 },
			wantErr: true,
			errMsg:  "health_interval",
		},
		{
			name:    "bad decimation",
			mutate:  func(c *Config) { c.Policy.DecimateDecoderOutput = "third" },
			wantErr: true,
			errMsg:  "decimate_decoder_output",
		},
		{
			name:    "bad aspect ratio",
			mutate:  func(c *Config) { c.Policy.DisplayAspectRatio = "21:9" },
			wantErr: true,
			errMsg:  "display_aspect_ratio",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *Config) {
				c.Events.Redis.Enabled = true
				c.Events.Redis.Addr = ""
			},
			wantErr: true,
			errMsg:  "redis addr is required",
		},
		{
			name: "metrics disabled ignores port",
			mutate: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.Port = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frameparser.yaml")
	content := `
logging:
  level: "debug"
  format: "text"

parser:
  codec: "mpeg2"
  decode_buffer_count: 12
  manifestor_reserve: 2

policy:
  h264_b_frames_require_two_references: true
  decimate_decoder_output: "half"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "mpeg2", cfg.Parser.Codec)
	assert.Equal(t, 12, cfg.Parser.DecodeBufferCount)
	assert.True(t, cfg.Policy.H264BFramesRequireTwoReferences)
	assert.Equal(t, "half", cfg.Policy.DecimateDecoderOutput)
	assert.Equal(t, 64, cfg.Parser.CodedFramePoolSize, "unset keys keep defaults")
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("FRAMEPARSER_PARSER_CODEC", "avs")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "avs", cfg.Parser.Codec)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parser:\n  codec: \"hevc\"\n"), 0o644))

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
