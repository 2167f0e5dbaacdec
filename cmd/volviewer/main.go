package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream"
	"github.com/opd-ai/volstream/av"
)

const statusInterval = 5 * time.Second

// senderList collects repeated -sender flags.
type senderList []string

func (s *senderList) String() string { return strings.Join(*s, ",") }

func (s *senderList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// CLI configuration
type CLIConfig struct {
	configPath     string
	listenAddress  string
	metricsAddress string
	senders        senderList
	logLevel       string
	logFormat      string
	help           bool
}

// parseCLIFlags parses command-line flags into a configuration and reports
// which flags were set explicitly.
func parseCLIFlags(fs *flag.FlagSet, args []string) (*CLIConfig, map[string]bool, error) {
	config := &CLIConfig{}

	fs.StringVar(&config.configPath, "config", "", "TOML config file")
	fs.StringVar(&config.listenAddress, "listen", ":0", "UDP address to receive on")
	fs.StringVar(&config.metricsAddress, "metrics", "", "HTTP address serving /metrics (disabled when empty)")
	fs.Var(&config.senders, "sender", "Sender address host:port (repeatable)")
	fs.StringVar(&config.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&config.logFormat, "log-format", "text", "Log format (text, json)")
	fs.BoolVar(&config.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return config, set, nil
}

// buildOptions loads the config file, if any, and applies explicit flags on
// top of it.
func buildOptions(config *CLIConfig, set map[string]bool) (*volstream.Options, error) {
	options := volstream.NewOptions()
	if config.configPath != "" {
		loaded, err := volstream.LoadOptions(config.configPath)
		if err != nil {
			return nil, err
		}
		options = loaded
	}

	if set["listen"] || config.configPath == "" {
		options.ListenAddress = config.listenAddress
	}
	if set["metrics"] {
		options.MetricsAddress = config.metricsAddress
	}
	if set["sender"] {
		options.Senders = append([]string{}, config.senders...)
	}
	if set["log-level"] || config.configPath == "" {
		options.LogLevel = config.logLevel
	}
	if set["log-format"] || config.configPath == "" {
		options.LogFormat = config.logFormat
	}

	if err := validateOptions(options); err != nil {
		return nil, err
	}
	return options, nil
}

// validateOptions checks what the CLI needs beyond Options.Validate.
func validateOptions(options *volstream.Options) error {
	if len(options.Senders) == 0 {
		return errors.New("at least one sender is required")
	}
	for _, s := range options.Senders {
		if !strings.Contains(s, ":") {
			return fmt.Errorf("invalid sender %q: expected host:port", s)
		}
	}
	return options.Validate()
}

// frameLogger is the CLI renderer: it counts frames and logs each at debug
// level.
type frameLogger struct {
	frames atomic.Uint64
}

func (l *frameLogger) Render(frame *av.DecodedFrame) {
	l.frames.Add(1)

	fields := logrus.Fields{
		"function":         "frameLogger.Render",
		"receiver_session": frame.ReceiverSessionID,
		"frame_id":         frame.FrameID,
		"keyframe":         frame.Keyframe,
		"timestamp_ms":     frame.FrameTimeStamp,
	}
	if frame.Color != nil {
		fields["color"] = fmt.Sprintf("%dx%d", frame.Color.Width, frame.Color.Height)
	}
	if frame.Depth != nil {
		fields["depth"] = fmt.Sprintf("%dx%d", frame.Depth.Width, frame.Depth.Height)
	}
	logrus.WithFields(fields).Debug("Frame")
}

func serveMetrics(address string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "serveMetrics",
				"address":  address,
				"error":    err.Error(),
			}).Error("Metrics server failed")
		}
	}()
	return server
}

func logStatus(viewer *volstream.Viewer, renderer *frameLogger) {
	for _, s := range viewer.Sessions() {
		logrus.WithFields(logrus.Fields{
			"function":         "logStatus",
			"receiver_session": s.Info.ReceiverSessionID,
			"endpoint":         s.Info.Endpoint.String(),
			"state":            s.Info.State.String(),
			"packets":          s.Stats.PacketsReceived,
			"decoded":          s.Stats.FramesDecoded,
			"recovered":        s.Stats.FramesRecovered,
			"abandoned":        s.Stats.FramesAbandoned,
			"decode_errors":    s.Stats.DecodeErrors,
			"last_frame":       s.Stats.LastFrameID,
		}).Info("Session status")
	}
	logrus.WithFields(logrus.Fields{
		"function": "logStatus",
		"rendered": renderer.frames.Load(),
	}).Debug("Renderer status")
}

func run(ctx context.Context, options *volstream.Options) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	options.Registerer = registry

	renderer := &frameLogger{}
	options.Renderer = renderer

	viewer, err := volstream.New(options)
	if err != nil {
		return err
	}
	defer viewer.Kill()

	viewer.OnSessionConfirmed(func(info av.SessionInfo) {
		// Frames are only logged, so the session is ready at once.
		if err := viewer.MarkPrepared(info.ReceiverSessionID); err != nil {
			logrus.WithError(err).Warn("Failed to prepare session")
		}
	})
	viewer.OnConnectionFailed(func(event av.SessionEvent) {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"endpoint": event.Session.Endpoint.String(),
		}).Error("Sender did not answer")
	})

	if options.MetricsAddress != "" {
		server := serveMetrics(options.MetricsAddress, registry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	for _, address := range options.Senders {
		if _, err := viewer.Connect(address); err != nil {
			return fmt.Errorf("connect %s: %w", address, err)
		}
	}

	ticker := time.NewTicker(viewer.IterationInterval())
	defer ticker.Stop()
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{"function": "run"}).Info("Shutting down")
			return nil
		case <-status.C:
			logStatus(viewer, renderer)
		case <-ticker.C:
			if err := viewer.Iterate(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"error":    err.Error(),
				}).Warn("Iteration failed")
			}
		}
	}
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	config, set, err := parseCLIFlags(fs, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if config.help {
		fmt.Printf("Usage: %s -sender host:port [options]\n\n", os.Args[0])
		fs.PrintDefaults()
		os.Exit(0)
	}

	options, err := buildOptions(config, set)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}
	if err := options.ConfigureLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, options); err != nil {
		logrus.WithError(err).Error("volviewer failed")
		os.Exit(1)
	}
}
