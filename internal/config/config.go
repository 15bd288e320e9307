// Package config provides configuration loading and validation for mse5.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultLowWatermark      = 20
	defaultHighWatermark     = 30
	defaultTimeupdateGap     = 15 * time.Millisecond
	defaultReadyAheadWindow  = 100 * time.Millisecond
	defaultTickInterval      = 16 * time.Millisecond
	defaultAudioBatchDivisor = 16
	defaultSeekPollInterval  = 2 * time.Millisecond
	defaultMaxInputStaging   = 32 * 1024 * 1024 // 32MB
	defaultUnionTolerance    = time.Second / 60
)

// Config holds all configuration for the mse5 playback engine.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Decoder  DecoderConfig  `mapstructure:"decoder"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PlaybackConfig holds clock, decode-queue, and track-buffer tunables for
// the scheduler described in spec §4.6.
type PlaybackConfig struct {
	// LowWatermark/HighWatermark bound the total in-flight-plus-ready
	// decoded-frame count per media type.
	LowWatermark  int `mapstructure:"low_watermark"`
	HighWatermark int `mapstructure:"high_watermark"`

	// TimeupdateInterval is the minimum spacing between timeupdate events.
	TimeupdateInterval Duration `mapstructure:"timeupdate_interval"`
	// ReadyAheadWindow is the look-ahead used by readyState transitions.
	ReadyAheadWindow Duration `mapstructure:"ready_ahead_window"`
	// TickInterval is the animation-tick cadence driving the media clock.
	TickInterval Duration `mapstructure:"tick_interval"`
	// SeekPollInterval is the polling cadence of the seek-wait loop.
	SeekPollInterval Duration `mapstructure:"seek_poll_interval"`
	// AudioBatchToleranceDivisor bounds the gap, as a fraction of a frame's
	// own duration, tolerated between consecutive AudioData for batching.
	AudioBatchToleranceDivisor int64 `mapstructure:"audio_batch_tolerance_divisor"`
	// RangeUnionTolerance is the tolerance used when merging track-buffer
	// ranges and computing buffered (spec §4.1/§3, 1/60s by default).
	RangeUnionTolerance Duration `mapstructure:"range_union_tolerance"`
}

// DecoderConfig holds input-staging and codec-support tunables for the
// segment parser and source buffer (spec §4.3/§4.4).
type DecoderConfig struct {
	// MaxInputStaging bounds the SourceBuffer.input staging buffer before
	// the parser catches up. Supports human-readable sizes ("32MB").
	MaxInputStaging ByteSize `mapstructure:"max_input_staging"`
	// SupportedVideoCodecs/SupportedAudioCodecs gate AddSourceBuffer and
	// initialization-segment-received codec checks (spec §4.4, §4.5).
	SupportedVideoCodecs []string `mapstructure:"supported_video_codecs"`
	SupportedAudioCodecs []string `mapstructure:"supported_audio_codecs"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with MSE5_, using underscores for nesting (e.g. MSE5_LOGGING_LEVEL).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mse5")
		v.AddConfigPath("$HOME/.mse5")
	}

	v.SetEnvPrefix("MSE5")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Duration and ByteSize values arrive as strings ("15ms", "64MB");
	// comma-separated strings still split into string lists.
	hook := func(_, to reflect.Type, data any) (any, error) {
		s, ok := data.(string)
		switch {
		case !ok:
			return data, nil
		case to == reflect.TypeOf(Duration(0)):
			return ParseDuration(s)
		case to == reflect.TypeOf(ByteSize(0)):
			return ParseByteSize(s)
		case to.Kind() == reflect.Slice && to.Elem().Kind() == reflect.String && s != "":
			return strings.Split(s, ","), nil
		}
		return data, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("playback.low_watermark", defaultLowWatermark)
	v.SetDefault("playback.high_watermark", defaultHighWatermark)
	v.SetDefault("playback.timeupdate_interval", defaultTimeupdateGap.String())
	v.SetDefault("playback.ready_ahead_window", defaultReadyAheadWindow.String())
	v.SetDefault("playback.tick_interval", defaultTickInterval.String())
	v.SetDefault("playback.seek_poll_interval", defaultSeekPollInterval.String())
	v.SetDefault("playback.audio_batch_tolerance_divisor", defaultAudioBatchDivisor)
	v.SetDefault("playback.range_union_tolerance", defaultUnionTolerance.String())

	v.SetDefault("decoder.max_input_staging", defaultMaxInputStaging)
	v.SetDefault("decoder.supported_video_codecs", []string{"avc1"})
	v.SetDefault("decoder.supported_audio_codecs", []string{"mp4a"})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Playback.LowWatermark < 1 {
		return fmt.Errorf("playback.low_watermark must be at least 1")
	}
	if c.Playback.HighWatermark < c.Playback.LowWatermark {
		return fmt.Errorf("playback.high_watermark must be >= playback.low_watermark")
	}
	if c.Playback.AudioBatchToleranceDivisor < 1 {
		return fmt.Errorf("playback.audio_batch_tolerance_divisor must be at least 1")
	}

	if c.Decoder.MaxInputStaging < 0 {
		return fmt.Errorf("decoder.max_input_staging must be non-negative")
	}

	return nil
}
