package config

import (
	"fmt"
)

func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Parser.Validate(); err != nil {
		return fmt.Errorf("parser config: %w", err)
	}

	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy config: %w", err)
	}

	if err := c.Events.Redis.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	if l.StreamErrorRate < 0 || l.StreamErrorBurst < 0 {
		return fmt.Errorf("stream error log budget cannot be negative")
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}

		if m.HealthInterval <= 0 {
			return fmt.Errorf("health_interval must be positive")
		}
	}

	return nil
}

func (p *ParserConfig) Validate() error {
	switch p.Codec {
	case "h264", "mpeg2", "avs":
	default:
		return fmt.Errorf("unsupported codec: %q", p.Codec)
	}

	if p.ReadChunkSize <= 0 {
		return fmt.Errorf("read_chunk_size must be positive")
	}
	if p.CodedFramePoolSize <= 0 {
		return fmt.Errorf("coded_frame_pool_size must be positive")
	}
	if p.StreamParameterPoolSize <= 0 {
		return fmt.Errorf("stream_parameter_pool_size must be positive")
	}
	if p.FrameParameterPoolSize <= 0 {
		return fmt.Errorf("frame_parameter_pool_size must be positive")
	}
	if p.OutputRingSize <= 0 {
		return fmt.Errorf("output_ring_size must be positive")
	}

	if p.ManifestorReserve < 0 {
		return fmt.Errorf("manifestor_reserve cannot be negative")
	}
	if p.DecodeBufferCount <= p.ManifestorReserve {
		return fmt.Errorf("decode_buffer_count (%d) must exceed manifestor_reserve (%d)",
			p.DecodeBufferCount, p.ManifestorReserve)
	}

	if p.ReverseFailureLimit < 0 {
		return fmt.Errorf("reverse_failure_limit cannot be negative")
	}
	if p.ResyncAfterFailures < 0 {
		return fmt.Errorf("resync_after_failures cannot be negative")
	}
	if p.ReverseSpoolMemory < 0 {
		return fmt.Errorf("reverse_spool_memory cannot be negative")
	}

	return nil
}

func (p *PolicyConfig) Validate() error {
	switch p.DecimateDecoderOutput {
	case "disabled", "half", "quarter":
	default:
		return fmt.Errorf("decimate_decoder_output must be disabled, half or quarter, got %q", p.DecimateDecoderOutput)
	}

	switch p.DisplayFormat {
	case "letterbox", "pan_scan", "full":
	default:
		return fmt.Errorf("invalid display_format: %q", p.DisplayFormat)
	}

	if p.DisplayAspectRatio != "4:3" && p.DisplayAspectRatio != "16:9" {
		return fmt.Errorf("invalid display_aspect_ratio: %q", p.DisplayAspectRatio)
	}

	return nil
}

func (r *RedisEventsConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.Addr == "" {
		return fmt.Errorf("redis addr is required when events are enabled")
	}
	if r.DB < 0 || r.DB > 15 {
		return fmt.Errorf("redis db must be between 0 and 15")
	}
	if r.Channel == "" {
		return fmt.Errorf("redis channel cannot be empty")
	}
	if r.TTL < 0 {
		return fmt.Errorf("redis ttl cannot be negative")
	}

	return nil
}
