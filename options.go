package volstream

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/av"
	"github.com/opd-ai/volstream/av/audio"
	"github.com/opd-ai/volstream/av/video"
	"github.com/opd-ai/volstream/transport"
)

// DefaultIterationInterval is the tick period of the viewer loop.
const DefaultIterationInterval = 10 * time.Millisecond

// Options contains configuration options for creating a Viewer.
//
// The fields tagged for TOML can be loaded from a file with LoadOptions; the
// remaining fields plug collaborators in and are set in code.
type Options struct {
	ListenAddress     string        `toml:"listen_address"`
	MetricsAddress    string        `toml:"metrics_address"`
	Senders           []string      `toml:"senders"`
	LogLevel          string        `toml:"log_level"`
	LogFormat         string        `toml:"log_format"`
	IterationInterval time.Duration `toml:"-"`

	ConnectAttempts   int           `toml:"connect_attempts"`
	ConnectInterval   time.Duration `toml:"-"`
	HeartbeatInterval time.Duration `toml:"-"`
	SessionTimeout    time.Duration `toml:"-"`

	WantsVideo bool `toml:"wants_video"`
	WantsAudio bool `toml:"wants_audio"`
	WantsFloor bool `toml:"wants_floor"`

	MaxInFlightFrames int `toml:"max_in_flight_frames"`
	HandoffQueueSize  int `toml:"handoff_queue_size"`

	// Transport overrides the UDP socket opened on ListenAddress.
	Transport transport.Transport `toml:"-"`
	// Registerer receives the viewer's metrics. Nil disables metrics.
	Registerer prometheus.Registerer `toml:"-"`

	// NewColorDecoder and NewDepthDecoder build the decoders of one session.
	// They default to the raw reference formats.
	NewColorDecoder func() video.ColorDecoder `toml:"-"`
	NewDepthDecoder func() video.DepthDecoder `toml:"-"`
	// NewAudioDecoder defaults to Opus when WantsAudio is set.
	NewAudioDecoder func() (audio.Decoder, error) `toml:"-"`

	Renderer  av.Renderer  `toml:"-"`
	AudioSink audio.Sink   `toml:"-"`
	FloorSink av.FloorSink `toml:"-"`
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	registry := av.DefaultRegistryConfig()
	return &Options{
		ListenAddress:     ":0",
		LogLevel:          "info",
		LogFormat:         "text",
		IterationInterval: DefaultIterationInterval,
		ConnectAttempts:   registry.ConnectAttempts,
		ConnectInterval:   registry.ConnectInterval,
		HeartbeatInterval: registry.HeartbeatInterval,
		SessionTimeout:    registry.Timeout,
		WantsVideo:        registry.WantsVideo,
		WantsAudio:        registry.WantsAudio,
		WantsFloor:        registry.WantsFloor,
		MaxInFlightFrames: video.DefaultMaxInFlightFrames,
		HandoffQueueSize:  av.DefaultHandoffQueueSize,
		NewColorDecoder:   func() video.ColorDecoder { return video.NewRawColorDecoder() },
		NewDepthDecoder:   func() video.DepthDecoder { return video.NewDeltaDepthDecoder() },
		NewAudioDecoder:   func() (audio.Decoder, error) { return audio.NewOpusDecoder(), nil },
	}
}

// duration decodes TOML strings such as "300ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// fileDurations holds the duration keys of a config file.
type fileDurations struct {
	IterationInterval duration `toml:"iteration_interval"`
	ConnectInterval   duration `toml:"connect_interval"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	SessionTimeout    duration `toml:"session_timeout"`
}

// LoadOptions reads a TOML config file on top of NewOptions defaults.
// Unknown keys are rejected.
func LoadOptions(path string) (*Options, error) {
	options := NewOptions()

	md, err := toml.DecodeFile(path, options)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	durations := fileDurations{
		IterationInterval: duration{options.IterationInterval},
		ConnectInterval:   duration{options.ConnectInterval},
		HeartbeatInterval: duration{options.HeartbeatInterval},
		SessionTimeout:    duration{options.SessionTimeout},
	}
	durationMD, err := toml.DecodeFile(path, &durations)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	options.IterationInterval = durations.IterationInterval.Duration
	options.ConnectInterval = durations.ConnectInterval.Duration
	options.HeartbeatInterval = durations.HeartbeatInterval.Duration
	options.SessionTimeout = durations.SessionTimeout.Duration

	// A key is unknown when neither pass consumed it.
	var unknown []string
	for _, key := range md.Undecoded() {
		if !durationMD.IsDefined(key...) {
			unknown = append(unknown, key.String())
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("load %s: unknown keys: %s", path, strings.Join(unknown, ", "))
	}

	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadOptions",
		"path":     path,
		"senders":  len(options.Senders),
	}).Info("Loaded configuration")

	return options, nil
}

// Validate checks that the options describe a runnable viewer.
func (o *Options) Validate() error {
	if o.Transport == nil && o.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	if o.IterationInterval <= 0 {
		return errors.New("iteration interval must be positive")
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if o.LogFormat != "text" && o.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q: must be text or json", o.LogFormat)
	}
	if o.MaxInFlightFrames <= 0 {
		return errors.New("max in-flight frames must be positive")
	}
	if o.HandoffQueueSize <= 0 {
		return errors.New("handoff queue size must be positive")
	}
	if o.NewColorDecoder == nil || o.NewDepthDecoder == nil {
		return av.ErrNoDecoder
	}
	return o.registryConfig().Validate()
}

func (o *Options) registryConfig() av.RegistryConfig {
	return av.RegistryConfig{
		ConnectAttempts:   o.ConnectAttempts,
		ConnectInterval:   o.ConnectInterval,
		HeartbeatInterval: o.HeartbeatInterval,
		Timeout:           o.SessionTimeout,
		WantsVideo:        o.WantsVideo,
		WantsAudio:        o.WantsAudio,
		WantsFloor:        o.WantsFloor,
	}
}

// ConfigureLogging applies LogLevel and LogFormat to the standard logrus logger.
func (o *Options) ConfigureLogging() error {
	level, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if o.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
