package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/frameparser/internal/config"
	"github.com/zsiec/frameparser/internal/events"
	"github.com/zsiec/frameparser/internal/health"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/pipeline"
	"github.com/zsiec/frameparser/internal/server"
	"github.com/zsiec/frameparser/pkg/version"
)

func main() {
	var (
		configPath  string
		inputPath   string
		outputPath  string
		codec       string
		streamID    string
		reverse     bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&inputPath, "input", "-", "Elementary stream to parse, - for stdin")
	flag.StringVar(&outputPath, "output", "-", "Where to write the frame report, - for stdout")
	flag.StringVar(&codec, "codec", "", "Override parser.codec (h264, mpeg2 or avs)")
	flag.StringVar(&streamID, "stream-id", "", "Stream identifier used in logs and events")
	flag.BoolVar(&reverse, "reverse", false, "Parse the stream for reverse playback")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if codec != "" {
		cfg.Parser.Codec = codec
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid codec: %v\n", err)
			os.Exit(1)
		}
	}
	// The report owns stdout.
	if outputPath == "-" && cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if streamID == "" {
		streamID = logger.NewParserID()
	}

	log.WithFields(logrus.Fields{
		"version":   version.GetInfo().Short(),
		"codec":     cfg.Parser.Codec,
		"stream_id": streamID,
	}).Info("Starting frame parser")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, log, runOptions{
		input:    inputPath,
		output:   outputPath,
		streamID: streamID,
		reverse:  reverse,
	}); err != nil {
		log.WithError(err).Error("Parsing failed")
		os.Exit(1)
	}
	log.Info("Frame parser finished")
}

type runOptions struct {
	input    string
	output   string
	streamID string
	reverse  bool
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger, opts runOptions) error {
	base := logger.NewLogrusAdapter(logger.WithStream(log, opts.streamID, cfg.Parser.Codec))

	sinks := []events.Sink{events.NewLogSink(base)}
	healthMgr := health.NewManager(base)
	if cfg.Events.Redis.Enabled {
		sink := events.NewRedisSinkFromConfig(&cfg.Events.Redis, base)
		if err := sink.Ping(ctx); err != nil {
			log.WithError(err).Warn("Redis event store unreachable, continuing without it")
			_ = sink.Close()
		} else {
			defer sink.Close()
			sinks = append(sinks, sink)
			healthMgr.Register(health.NewRedisChecker(sink.Client()))
			log.WithField("addr", cfg.Events.Redis.Addr).Info("Publishing parser events to Redis")
		}
	}

	pcfg, err := pipeline.ConfigFromFile(cfg)
	if err != nil {
		return err
	}
	pcfg.StreamID = opts.streamID
	pcfg.Reverse = opts.reverse
	pcfg.Parser.Logger = base
	pcfg.Parser.Events = events.NewMultiSink(sinks...)

	in, err := openInput(opts.input)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	defer func() {
		if err := w.Flush(); err != nil {
			log.WithError(err).Error("Failed to flush report")
		}
		if out != os.Stdout {
			out.Close()
		}
	}()

	p, err := pipeline.New(pcfg, pipeline.NewFactory(), pipeline.NewJSONReporter(w))
	if err != nil {
		return err
	}

	healthMgr.Register(health.NewParserChecker("parser", p.Parser()))
	healthMgr.Register(health.NewPoolChecker(p.CodedFramePool()))

	serverErr := make(chan error, 1)
	srvCtx, stopServer := context.WithCancel(ctx)
	if cfg.Metrics.Enabled {
		srv := server.New(&cfg.Metrics, log, healthMgr)
		srv.RegisterStatus(func() interface{} { return p.Stats() })
		go func() { serverErr <- srv.Start(srvCtx) }()
	} else {
		close(serverErr)
	}

	runErr := p.Run(ctx, in)

	stopServer()
	if err := <-serverErr; err != nil {
		log.WithError(err).Error("Diagnostics server error")
	}

	stats := p.Stats()
	log.WithFields(logrus.Fields{
		"bytes_read":    stats.BytesRead,
		"access_units":  stats.AccessUnits,
		"frames_out":    stats.FramesOut,
		"commands_out":  stats.CommandsOut,
		"discarded":     stats.Discarded,
		"bytes_skipped": stats.Collator.BytesSkipped,
	}).Info("Stream summary")
	return runErr
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

func openOutput(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdout, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	return f, nil
}
