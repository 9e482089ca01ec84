package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/frameparser/internal/config"
	"github.com/zsiec/frameparser/internal/logger"
	"github.com/zsiec/frameparser/internal/parser"
	"github.com/zsiec/frameparser/internal/testdata"
)

type memoryReporter struct {
	frames   []FrameReport
	commands []CommandReport
	failOn   int
}

func (m *memoryReporter) Frame(r FrameReport) error {
	if m.failOn > 0 && len(m.frames)+1 == m.failOn {
		return fmt.Errorf("reporter closed")
	}
	m.frames = append(m.frames, r)
	return nil
}

func (m *memoryReporter) Command(r CommandReport) error {
	m.commands = append(m.commands, r)
	return nil
}

func (m *memoryReporter) display() []int {
	out := make([]int, len(m.frames))
	for i, f := range m.frames {
		out[i] = f.DisplayIndex
	}
	return out
}

func (m *memoryReporter) decode() []int {
	out := make([]int, len(m.frames))
	for i, f := range m.frames {
		out[i] = f.DecodeIndex
	}
	return out
}

func testConfig(codec string) Config {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	opts := parser.DefaultOptions()
	opts.Logger = logger.NewLogrusAdapter(logrus.NewEntry(log))
	return Config{
		StreamID:           "test",
		Codec:              codec,
		ReadChunkSize:      7,
		CodedFramePoolSize: 8,
		Parser:             opts,
	}
}

func mpeg2Stream(withEnd bool) []byte {
	seq := testdata.DefaultMPEG2Sequence()
	pictures := []struct {
		tr, coding uint32
	}{
		{2, testdata.MPEG2CodingI},
		{5, testdata.MPEG2CodingP},
		{3, testdata.MPEG2CodingB},
		{4, testdata.MPEG2CodingB},
		{8, testdata.MPEG2CodingP},
	}
	var units [][]byte
	for i, pic := range pictures {
		var s *testdata.MPEG2SequenceHeader
		var gop *testdata.MPEG2GOPHeader
		if i == 0 {
			s, gop = &seq, &testdata.MPEG2GOPHeader{}
		}
		units = append(units, testdata.MPEG2AccessUnit(s, gop, testdata.MPEG2PictureHeader{
			TemporalReference: pic.tr,
			CodingType:        pic.coding,
		})...)
	}
	if withEnd {
		units = append(units, testdata.MPEG2SequenceEnd())
	}
	return testdata.Stream(units...)
}

func h264Stream() []byte {
	sps, pps := testdata.DefaultSPS(), testdata.DefaultPPS()
	return testdata.Stream(
		sps.Encode(), pps.Encode(),
		testdata.Slice{NalRefIdc: 3, IDR: true, Type: 7}.Encode(sps, pps),
		testdata.AUD(),
		testdata.Slice{NalRefIdc: 1, Type: testdata.SliceP, FrameNum: 1, PicOrderCntLsb: 8}.Encode(sps, pps),
		testdata.AUD(),
		testdata.Slice{Type: testdata.SliceB, FrameNum: 2, PicOrderCntLsb: 4}.Encode(sps, pps),
		testdata.AUD(),
		testdata.Slice{NalRefIdc: 1, Type: testdata.SliceP, FrameNum: 2, PicOrderCntLsb: 16}.Encode(sps, pps),
	)
}

func TestPipeline_Forward(t *testing.T) {
	tests := []struct {
		name     string
		codec    string
		stream   []byte
		units    uint64
		display  []int
		released []int
	}{
		{
			name:     "mpeg2",
			codec:    "mpeg2",
			stream:   mpeg2Stream(true),
			units:    6,
			display:  []int{0, 3, 1, 2, 4},
			released: []int{0, 1, 4},
		},
		{
			name:    "h264",
			codec:   "h264",
			stream:  h264Stream(),
			units:   4,
			display: []int{0, 2, 1, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &memoryReporter{}
			p, err := New(testConfig(tt.codec), NewFactory(), rep)
			require.NoError(t, err)

			require.NoError(t, p.Run(context.Background(), bytes.NewReader(tt.stream)))

			assert.Equal(t, tt.display, rep.display())
			if tt.released != nil {
				var released []int
				for _, c := range rep.commands {
					if c.Command == parser.ReleaseReferenceFrame.String() {
						released = append(released, c.DecodeIndex)
					}
				}
				assert.Equal(t, tt.released, released)
			}

			stats := p.Stats()
			assert.Equal(t, uint64(len(tt.stream)), stats.BytesRead)
			assert.Equal(t, tt.units, stats.AccessUnits)
			assert.Equal(t, uint64(len(tt.display)), stats.FramesOut)
			assert.Zero(t, stats.Discarded)
			assert.Equal(t, 0, p.CodedFramePool().InUse(), "every coded frame returned")
			assert.Equal(t, tt.codec, stats.Codec)
		})
	}
}

func TestPipeline_Reverse(t *testing.T) {
	cfg := testConfig("mpeg2")
	cfg.Reverse = true
	cfg.CodedFramePoolSize = 8
	rep := &memoryReporter{}

	p, err := New(cfg, NewFactory(), rep)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), bytes.NewReader(mpeg2Stream(false))))

	// One group, displayed from its last picture back to the I picture.
	// References were queued as they arrived, the B pictures at unwind.
	assert.Equal(t, []int{0, 1, 2, 3, 4}, rep.decode())
	assert.Equal(t, []int{4, 1, 0, 2, 3}, rep.display())
	assert.Equal(t, "reverse", p.Stats().Parser.Direction)
	assert.Equal(t, 0, p.CodedFramePool().InUse())
}

func TestPipeline_ReferenceOnlyStream(t *testing.T) {
	sps, pps := testdata.DefaultSPS(), testdata.DefaultPPS()
	units := [][]byte{
		sps.Encode(), pps.Encode(),
		testdata.Slice{NalRefIdc: 3, IDR: true, Type: 7}.Encode(sps, pps),
	}
	for i := uint32(1); i <= 10; i++ {
		units = append(units, testdata.AUD(),
			testdata.Slice{NalRefIdc: 1, Type: testdata.SliceP, FrameNum: i, PicOrderCntLsb: 2 * i}.Encode(sps, pps))
	}

	cfg := testConfig("h264")
	cfg.CodedFramePoolSize = 16
	rep := &memoryReporter{}
	p, err := New(cfg, NewFactory(), rep)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), bytes.NewReader(testdata.Stream(units...))))

	want := make([]int, 11)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, rep.decode())
	assert.Equal(t, want, rep.display(), "every reference picture gets its display index")
	for _, f := range rep.frames {
		assert.Equal(t, 25.0, f.FrameRate)
	}
	assert.Equal(t, 0, p.CodedFramePool().InUse())
}

func TestPipeline_ReverseSpillsToDisk(t *testing.T) {
	seq := testdata.DefaultMPEG2Sequence()
	var units [][]byte
	for g := 0; g < 2; g++ {
		units = append(units, testdata.MPEG2AccessUnit(&seq, &testdata.MPEG2GOPHeader{}, testdata.MPEG2PictureHeader{
			TemporalReference: 0,
			CodingType:        testdata.MPEG2CodingI,
		})...)
		units = append(units, testdata.MPEG2AccessUnit(nil, nil, testdata.MPEG2PictureHeader{
			TemporalReference: 1,
			CodingType:        testdata.MPEG2CodingP,
		})...)
	}

	cfg := testConfig("mpeg2")
	cfg.Reverse = true
	cfg.CodedFramePoolSize = 3
	cfg.SpoolDir = t.TempDir()
	rep := &memoryReporter{}

	p, err := New(cfg, NewFactory(), rep)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), bytes.NewReader(testdata.Stream(units...))))

	assert.Len(t, rep.frames, 4, "four pictures through a pool of three")
	assert.Equal(t, []int{1, 0, 3, 2}, rep.display())
	assert.Equal(t, uint64(4), p.Stats().AccessUnits)
	assert.Equal(t, 0, p.CodedFramePool().InUse())
	require.NotNil(t, p.Stats().Spool)
}

func TestPipeline_UnsupportedCodec(t *testing.T) {
	_, err := New(testConfig("vc1"), NewFactory(), &memoryReporter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported codec")
}

func TestPipeline_ReporterError(t *testing.T) {
	rep := &memoryReporter{failOn: 2}
	p, err := New(testConfig("mpeg2"), NewFactory(), rep)
	require.NoError(t, err)

	err = p.Run(context.Background(), bytes.NewReader(mpeg2Stream(true)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reporter closed")
	assert.Len(t, rep.frames, 1)
}

func TestPipeline_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := New(testConfig("h264"), NewFactory(), &memoryReporter{})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Run(ctx, bytes.NewReader(h264Stream())), context.Canceled)
}

func TestConfigFromFile(t *testing.T) {
	cfg := config.Default()
	cfg.Parser.Codec = "avs"

	pc, err := ConfigFromFile(cfg)
	require.NoError(t, err)
	assert.Equal(t, "avs", pc.Codec)
	assert.Equal(t, cfg.Parser.ReadChunkSize, pc.ReadChunkSize)
	assert.Equal(t, cfg.Parser.CodedFramePoolSize, pc.CodedFramePoolSize)
	assert.Equal(t, cfg.Parser.DecodeBufferCount, pc.Parser.DecodeBufferCount)
}

func TestJSONReporter(t *testing.T) {
	var out strings.Builder
	rep := NewJSONReporter(&out)

	params := parser.ParsedFrameParameters{
		DecodeFrameIndex:       3,
		DisplayFrameIndex:      1,
		NormalizedPlaybackTime: 40000,
		KeyFrame:               true,
		Width:                  720,
		Height:                 576,
	}
	require.NoError(t, rep.Frame(NewFrameReport(params)))
	require.NoError(t, rep.Command(NewCommandReport(parser.Command{Kind: parser.ReleaseReferenceFrame, DecodeIndex: 3})))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &frame))
	assert.Equal(t, "frame", frame["kind"])
	assert.Equal(t, float64(3), frame["decode_index"])
	assert.Equal(t, float64(40000), frame["pts_us"])
	assert.Equal(t, "frame", frame["structure"])

	var cmd CommandReport
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &cmd))
	assert.Equal(t, "command", cmd.Kind)
	assert.Equal(t, 3, cmd.DecodeIndex)
}

func TestFactory_Names(t *testing.T) {
	f := NewFactory()
	assert.Equal(t, []string{"avs", "h264", "mpeg2"}, f.Names())

	f.Register("null", func(CodecOptions) parser.Codec { return nil })
	assert.Contains(t, f.Names(), "null")
}
