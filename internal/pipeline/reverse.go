package pipeline

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/zsiec/frameparser/internal/collator"
	"github.com/zsiec/frameparser/internal/errors"
	"github.com/zsiec/frameparser/internal/parser"
	"github.com/zsiec/frameparser/internal/spool"
)

// spooledUnit is an access unit parked in the reverse spool.
type spooledUnit struct {
	Data       []byte
	StartCodes []int
	Metadata   parser.CodedFrameMetadata
}

// reverseStore keeps a whole stream of access units until it can be fed
// back one group at a time.
type reverseStore struct {
	spool  *spool.Spool
	points []bool
}

func newReverseStore(name string, memLimit int64, dir string) *reverseStore {
	return &reverseStore{spool: spool.New(name, memLimit, dir)}
}

// add parks units in the spool and releases their coded frames.
func (r *reverseStore) add(units []collator.AccessUnit) error {
	for i, u := range units {
		err := r.put(u)
		u.Release()
		if err != nil {
			releaseUnits(units[i+1:])
			return err
		}
	}
	return nil
}

func (r *reverseStore) put(u collator.AccessUnit) error {
	cf := u.Frame.Value()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(spooledUnit{
		Data:       cf.Data,
		StartCodes: cf.StartCodes,
		Metadata:   cf.Metadata,
	}); err != nil {
		return fmt.Errorf("failed to encode access unit: %w", err)
	}
	if _, err := r.spool.Append(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to spool access unit: %w", err)
	}
	r.points = append(r.points, u.ReversiblePoint)
	return nil
}

// groups returns the reverse-ordered group spans.
func (r *reverseStore) groups() []collator.Span {
	return collator.ReverseSpans(r.points)
}

// load reads unit i back into a coded frame taken from the pipeline pool.
func (p *Pipeline) load(i int, groupStart bool) (collator.AccessUnit, error) {
	data, err := p.store.spool.Get(i)
	if err != nil {
		return collator.AccessUnit{}, err
	}
	var su spooledUnit
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&su); err != nil {
		return collator.AccessUnit{}, fmt.Errorf("failed to decode access unit %d: %w", i, err)
	}

	b, err := p.pool.Get()
	if err != nil {
		return collator.AccessUnit{}, errors.WrapAllocationError(err, p.pool.Name())
	}
	cf := b.Value()
	cf.Data = append(cf.Data, su.Data...)
	cf.StartCodes = append(cf.StartCodes, su.StartCodes...)
	cf.Metadata = su.Metadata
	cf.Metadata.ReverseGroupStart = groupStart

	return collator.AccessUnit{Frame: b, ReversiblePoint: p.store.points[i]}, nil
}

// playReverse feeds the spooled groups last first.
func (p *Pipeline) playReverse() error {
	spans := p.store.groups()
	p.logger.WithFields(map[string]interface{}{
		"groups":       len(spans),
		"access_units": len(p.store.points),
		"spool":        p.store.spool.Stats(),
	}).Debug("Feeding reverse groups")

	for _, span := range spans {
		for i := span.Start; i < span.End; i++ {
			u, err := p.load(i, i == span.Start)
			if err != nil {
				return err
			}
			if err := p.input([]collator.AccessUnit{u}); err != nil {
				return err
			}
		}
	}
	return nil
}
