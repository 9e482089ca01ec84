// Package pipeline drives an elementary stream through the collator and the
// frame parser and reports what would be handed to a decoder.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/zsiec/frameparser/internal/buffer"
	"github.com/zsiec/frameparser/internal/collator"
	"github.com/zsiec/frameparser/internal/config"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/parser"
	"github.com/zsiec/frameparser/internal/spool"
)

// Config holds pipeline configuration
type Config struct {
	StreamID           string
	Codec              string
	ReadChunkSize      int
	CodedFramePoolSize int
	// Reverse collates the whole stream into a spool first and feeds it
	// back one reversible group at a time, last group first.
	Reverse     bool
	SpoolMemory int64
	SpoolDir    string

	Codecs CodecOptions
	Parser parser.Options
}

// ConfigFromFile builds a pipeline configuration from the loaded config.
func ConfigFromFile(cfg *config.Config) (Config, error) {
	opts, err := parser.OptionsFromConfig(cfg)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Codec:              cfg.Parser.Codec,
		ReadChunkSize:      cfg.Parser.ReadChunkSize,
		CodedFramePoolSize: cfg.Parser.CodedFramePoolSize,
		SpoolMemory:        cfg.Parser.ReverseSpoolMemory,
		SpoolDir:           cfg.Parser.ReverseSpoolDir,
		Codecs: CodecOptions{
			StreamParameterPoolSize: cfg.Parser.StreamParameterPoolSize,
			FrameParameterPoolSize:  cfg.Parser.FrameParameterPoolSize,
		},
		Parser: opts,
	}, nil
}

// Stats contains pipeline statistics
type Stats struct {
	StreamID    string           `json:"stream_id"`
	Codec       string           `json:"codec"`
	BytesRead   uint64           `json:"bytes_read"`
	AccessUnits uint64           `json:"access_units"`
	Discarded   uint64           `json:"discarded"`
	FramesOut   uint64           `json:"frames_out"`
	CommandsOut uint64           `json:"commands_out"`
	Collator    collator.Stats   `json:"collator"`
	Parser      parser.Stats     `json:"parser"`
	Resources   parser.Resources `json:"resources"`
	CodedFrames int              `json:"coded_frames_free"`
	Spool       *spool.Stats     `json:"spool,omitempty"`
}

// Pipeline connects a byte stream to one parser instance.
type Pipeline struct {
	streamID string
	codec    parser.Codec
	parser   *parser.Parser
	collator *collator.Collator
	pool     *buffer.Pool[parser.CodedFrame]
	reporter Reporter
	chunk    int
	reverse  bool
	store    *reverseStore
	logger   logger.Logger

	// pending holds drained output in queue order until the frame at its
	// head has its display settled.
	pending []parser.OutputItem

	bytesRead   atomic.Uint64
	accessUnits atomic.Uint64
	discarded   atomic.Uint64
	framesOut   atomic.Uint64
	commandsOut atomic.Uint64
}

// New creates a pipeline for cfg.Codec.
func New(cfg Config, factory *Factory, reporter Reporter) (*Pipeline, error) {
	if reporter == nil {
		return nil, fmt.Errorf("reporter required")
	}
	if cfg.ReadChunkSize <= 0 {
		cfg.ReadChunkSize = 64 * 1024
	}
	if cfg.CodedFramePoolSize <= 0 {
		cfg.CodedFramePoolSize = 64
	}
	log := cfg.Parser.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}
	if cfg.Codecs.Logger == nil {
		cfg.Codecs.Logger = log
	}

	codec, err := factory.Create(cfg.Codec, cfg.Codecs)
	if err != nil {
		return nil, err
	}

	cfg.Parser.StreamID = cfg.StreamID
	p := parser.New(codec, cfg.Parser)
	pool := parser.NewCodedFramePool(cfg.CodedFramePoolSize, log)

	pl := &Pipeline{
		streamID: cfg.StreamID,
		codec:    codec,
		parser:   p,
		collator: collator.New(codec, collator.Options{
			Name:   codec.Name(),
			Pool:   pool,
			Logger: log,
		}),
		pool:     pool,
		reporter: reporter,
		chunk:    cfg.ReadChunkSize,
		reverse:  cfg.Reverse,
		logger: log.WithFields(map[string]interface{}{
			"component": "pipeline",
			"stream_id": cfg.StreamID,
			"codec":     codec.Name(),
		}),
	}
	if cfg.Reverse {
		pl.store = newReverseStore("reverse-"+codec.Name(), cfg.SpoolMemory, cfg.SpoolDir)
	}
	return pl, nil
}

// Parser returns the parser the pipeline feeds.
func (p *Pipeline) Parser() *parser.Parser {
	return p.parser
}

// CodedFramePool returns the pool access units are collated into.
func (p *Pipeline) CodedFramePool() *buffer.Pool[parser.CodedFrame] {
	return p.pool
}

// Run reads r to the end, parses every access unit and halts the parser.
// Output is reported in queue order once its display order is known.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) error {
	defer func() {
		p.releasePending(0)
		p.pending = nil
	}()
	if p.reverse {
		p.parser.SetPlaybackDirection(parser.DirectionReverse)
		defer func() {
			if err := p.store.spool.Close(); err != nil {
				p.logger.WithError(err).Warn("Failed to close reverse spool")
			}
		}()
	}
	p.logger.WithField("reverse", p.reverse).Info("Parsing stream")

	buf := make([]byte, p.chunk)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			p.bytesRead.Add(uint64(n))
			if err := p.collate(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read stream: %w", readErr)
		}
	}

	units, err := p.collator.Flush()
	if ferr := p.feed(units); ferr != nil {
		return ferr
	}
	if err != nil {
		return fmt.Errorf("failed to collate stream: %w", err)
	}

	if p.reverse {
		if err := p.playReverse(); err != nil {
			return err
		}
	}

	p.parser.Halt()
	if err := p.flush(); err != nil {
		return err
	}

	stats := p.Stats()
	p.logger.WithFields(map[string]interface{}{
		"access_units": stats.AccessUnits,
		"frames_out":   stats.FramesOut,
		"discarded":    stats.Discarded,
	}).Info("Stream parsed")
	return nil
}

// feed parses collated units, or spools them when playing in reverse.
func (p *Pipeline) feed(units []collator.AccessUnit) error {
	if p.reverse {
		return p.store.add(units)
	}
	return p.input(units)
}

// collate writes data to the collator. When the coded frame pool runs dry
// the completed units are fed on, which returns their frames, and the held
// data is collated again once.
func (p *Pipeline) collate(data []byte) error {
	units, err := p.collator.Write(data)
	if ferr := p.feed(units); ferr != nil {
		return ferr
	}
	if err != nil && errors.Classify(err) == errors.DispositionRetry {
		units, err = p.collator.Write(nil)
		if ferr := p.feed(units); ferr != nil {
			return ferr
		}
	}
	if err != nil {
		return fmt.Errorf("failed to collate stream: %w", err)
	}
	return nil
}

// input parses access units in order, releasing each one.
func (p *Pipeline) input(units []collator.AccessUnit) error {
	for i, u := range units {
		err := p.parser.Input(u.Frame)
		u.Release()
		p.accessUnits.Add(1)

		if derr := p.drain(); derr != nil {
			releaseUnits(units[i+1:])
			return derr
		}
		if err == nil {
			continue
		}
		if errors.IsFatal(err) {
			releaseUnits(units[i+1:])
			return fmt.Errorf("stream cannot be parsed: %w", err)
		}
		p.discarded.Add(1)
	}
	return nil
}

// drain moves the output ring into pending and reports the prefix whose
// display is settled. Frames still waiting for display order hold back
// everything queued after them.
func (p *Pipeline) drain() error {
	p.pending = append(p.pending, p.parser.Output().Drain()...)
	return p.report(false)
}

// flush reports all pending output, settled or not. It runs after Halt,
// when nothing can settle any more.
func (p *Pipeline) flush() error {
	p.pending = append(p.pending, p.parser.Output().Drain()...)
	return p.report(true)
}

func (p *Pipeline) report(all bool) error {
	n := 0
	defer func() {
		rest := copy(p.pending, p.pending[n:])
		clear(p.pending[rest:])
		p.pending = p.pending[:rest]
	}()

	for ; n < len(p.pending); n++ {
		item := p.pending[n]
		var err error
		if item.IsCommand() {
			p.commandsOut.Add(1)
			err = p.reporter.Command(NewCommandReport(*item.Command))
		} else {
			cf := item.Frame.Value()
			if !all && !cf.DisplaySettled() {
				return nil
			}
			params, _ := cf.Parameters()
			item.Frame.Release()
			p.framesOut.Add(1)
			err = p.reporter.Frame(NewFrameReport(params))
		}
		if err != nil {
			n++
			p.releasePending(n)
			n = len(p.pending)
			return fmt.Errorf("failed to report output: %w", err)
		}
	}
	return nil
}

// releasePending drops the references of every pending frame from index
// from on.
func (p *Pipeline) releasePending(from int) {
	for _, item := range p.pending[from:] {
		if item.Frame != nil {
			item.Frame.Release()
		}
	}
}

// Stats returns pipeline statistics
func (p *Pipeline) Stats() Stats {
	stats := Stats{
		StreamID:    p.streamID,
		Codec:       p.codec.Name(),
		BytesRead:   p.bytesRead.Load(),
		AccessUnits: p.accessUnits.Load(),
		Discarded:   p.discarded.Load(),
		FramesOut:   p.framesOut.Load(),
		CommandsOut: p.commandsOut.Load(),
		Collator:    p.collator.Stats(),
		Parser:      p.parser.Stats(),
		Resources:   p.codec.Resources(),
		CodedFrames: p.pool.Free(),
	}
	if p.store != nil {
		st := p.store.spool.Stats()
		stats.Spool = &st
	}
	return stats
}

func releaseUnits(units []collator.AccessUnit) {
	for _, u := range units {
		u.Release()
	}
}
