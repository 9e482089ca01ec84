package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Parser  ParserConfig  `mapstructure:"parser"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Events  EventsConfig  `mapstructure:"events"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`     // json or text
	Output     string `mapstructure:"output"`     // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"`   // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days

	// Per-category budget for stream error messages
	StreamErrorRate  float64 `mapstructure:"stream_error_rate"` // messages per second
	StreamErrorBurst int     `mapstructure:"stream_error_burst"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`

	// HealthInterval is how often the background health checks run.
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type ParserConfig struct {
	Codec string `mapstructure:"codec"` // h264, mpeg2 or avs

	// ReadChunkSize is how many stream bytes the CLI hands the collator at once.
	ReadChunkSize int `mapstructure:"read_chunk_size"`

	CodedFramePoolSize      int `mapstructure:"coded_frame_pool_size"`
	StreamParameterPoolSize int `mapstructure:"stream_parameter_pool_size"`
	FrameParameterPoolSize  int `mapstructure:"frame_parameter_pool_size"`
	OutputRingSize          int `mapstructure:"output_ring_size"`

	// Decode buffers available downstream, and how many of those the
	// display side keeps for itself.
	DecodeBufferCount int `mapstructure:"decode_buffer_count"`
	ManifestorReserve int `mapstructure:"manifestor_reserve"`

	ReverseFailureLimit int `mapstructure:"reverse_failure_limit"`
	ResyncAfterFailures int `mapstructure:"resync_after_failures"`

	// Reverse playback spools collated access units: this many bytes in
	// memory, the rest in a temporary file under ReverseSpoolDir.
	ReverseSpoolMemory int64  `mapstructure:"reverse_spool_memory"`
	ReverseSpoolDir    string `mapstructure:"reverse_spool_dir"`
}

type PolicyConfig struct {
	DecimateDecoderOutput                             string `mapstructure:"decimate_decoder_output"` // disabled, half, quarter
	H264AllowNonIDRResynchronization                  bool   `mapstructure:"h264_allow_non_idr_resynchronization"`
	H264ForcePicOrderCntIgnoreDpbDisplayFrameOrdering bool   `mapstructure:"h264_force_pic_order_cnt_ignore_dpb_display_frame_ordering"`
	H264TreatTopBottomPictureStructAsInterlaced       bool   `mapstructure:"h264_treat_top_bottom_picture_struct_as_interlaced"`
	H264BFramesRequireTwoReferences                   bool   `mapstructure:"h264_b_frames_require_two_references"`
	UsePTSDeducedDefaultFrameRates                    bool   `mapstructure:"use_pts_deduced_default_frame_rates"`
	DisplayFormat                                     string `mapstructure:"display_format"`       // letterbox, pan_scan, full
	DisplayAspectRatio                                string `mapstructure:"display_aspect_ratio"` // 4:3 or 16:9
}

type EventsConfig struct {
	Redis RedisEventsConfig `mapstructure:"redis"`
}

type RedisEventsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	Channel      string        `mapstructure:"channel"`
	TTL          time.Duration `mapstructure:"ttl"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load reads configPath (YAML) with FRAMEPARSER_ environment overrides.
// An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("FRAMEPARSER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration produced by Load with no file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.stream_error_rate", 1.0)
	v.SetDefault("logging.stream_error_burst", 10)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.health_interval", "30s")

	// Parser defaults
	v.SetDefault("parser.codec", "h264")
	v.SetDefault("parser.read_chunk_size", 64*1024)
	v.SetDefault("parser.coded_frame_pool_size", 64)
	v.SetDefault("parser.stream_parameter_pool_size", 32)
	v.SetDefault("parser.frame_parameter_pool_size", 48)
	v.SetDefault("parser.output_ring_size", 64)
	v.SetDefault("parser.decode_buffer_count", 20)
	v.SetDefault("parser.manifestor_reserve", 3)
	v.SetDefault("parser.reverse_failure_limit", 4)
	v.SetDefault("parser.resync_after_failures", 8)
	v.SetDefault("parser.reverse_spool_memory", 64*1024*1024)
	v.SetDefault("parser.reverse_spool_dir", "")

	// Policy defaults
	v.SetDefault("policy.decimate_decoder_output", "disabled")
	v.SetDefault("policy.h264_allow_non_idr_resynchronization", false)
	v.SetDefault("policy.h264_force_pic_order_cnt_ignore_dpb_display_frame_ordering", false)
	v.SetDefault("policy.h264_treat_top_bottom_picture_struct_as_interlaced", false)
	v.SetDefault("policy.h264_b_frames_require_two_references", false)
	v.SetDefault("policy.use_pts_deduced_default_frame_rates", true)
	v.SetDefault("policy.display_format", "letterbox")
	v.SetDefault("policy.display_aspect_ratio", "16:9")

	// Events defaults
	v.SetDefault("events.redis.enabled", false)
	v.SetDefault("events.redis.addr", "localhost:6379")
	v.SetDefault("events.redis.db", 0)
	v.SetDefault("events.redis.key_prefix", "frameparser:")
	v.SetDefault("events.redis.channel", "frameparser:events")
	v.SetDefault("events.redis.ttl", "1h")
	v.SetDefault("events.redis.dial_timeout", "5s")
	v.SetDefault("events.redis.write_timeout", "3s")
}
