package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/parser"
	"github.com/zsiec/frameparser/internal/parser/avs"
	"github.com/zsiec/frameparser/internal/parser/h264"
	"github.com/zsiec/frameparser/internal/parser/mpeg2"
)

// CodecOptions are the parameter pool sizes and logger handed to a codec.
type CodecOptions struct {
	StreamParameterPoolSize int
	FrameParameterPoolSize  int
	Logger                  logger.Logger
}

// Creator builds one codec instance.
type Creator func(opts CodecOptions) parser.Codec

// Factory creates codecs by name.
type Factory struct {
	mu       sync.RWMutex
	registry map[string]Creator
}

// NewFactory creates a factory with the built-in codecs registered.
func NewFactory() *Factory {
	f := &Factory{registry: make(map[string]Creator)}
	f.RegisterDefaults()
	return f
}

// RegisterDefaults registers h264, mpeg2 and avs.
func (f *Factory) RegisterDefaults() {
	f.Register("h264", func(o CodecOptions) parser.Codec {
		return h264.New(h264.Options{
			StreamParameterPoolSize: o.StreamParameterPoolSize,
			FrameParameterPoolSize:  o.FrameParameterPoolSize,
			Logger:                  o.Logger,
		})
	})
	f.Register("mpeg2", func(o CodecOptions) parser.Codec {
		return mpeg2.New(mpeg2.Options{
			StreamParameterPoolSize: o.StreamParameterPoolSize,
			FrameParameterPoolSize:  o.FrameParameterPoolSize,
			Logger:                  o.Logger,
		})
	})
	f.Register("avs", func(o CodecOptions) parser.Codec {
		return avs.New(avs.Options{
			StreamParameterPoolSize: o.StreamParameterPoolSize,
			FrameParameterPoolSize:  o.FrameParameterPoolSize,
			Logger:                  o.Logger,
		})
	})
}

// Register adds or replaces the creator for a codec name.
func (f *Factory) Register(name string, creator Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[name] = creator
}

// Create builds the codec registered under name.
func (f *Factory) Create(name string, opts CodecOptions) (parser.Codec, error) {
	f.mu.RLock()
	creator, ok := f.registry[name]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported codec: %s", name)
	}
	return creator(opts), nil
}

// Names returns the registered codec names in order.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.registry))
	for name := range f.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
