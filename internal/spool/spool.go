// Package spool stores an append-only sequence of records in memory and
// overflows to a temporary file once a byte budget is spent. Records are
// read back by index in any order.
package spool

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed indicates the spool is closed
	ErrClosed = errors.New("spool closed")

	// ErrCorruptedData indicates a record on disk does not match its index
	ErrCorruptedData = errors.New("corrupted data in spool file")

	// ErrRecordTooLarge rejects records no access unit could reach
	ErrRecordTooLarge = errors.New("record too large")
)

const (
	lengthPrefix   = 4
	maxRecordSize  = 64 * 1024 * 1024
	diskBufferSize = 64 * 1024
)

// record locates one appended record.
type record struct {
	mem    []byte
	offset int64
	length int
	onDisk bool
}

// Spool holds records in memory up to memLimit bytes and writes the rest,
// length-prefixed, to a file under dir.
type Spool struct {
	name     string
	memLimit int64
	dir      string

	mu      sync.Mutex
	records []record
	file    *os.File
	writer  *bufio.Writer
	size    int64

	memBytes  atomic.Int64
	diskBytes atomic.Int64
	closed    atomic.Bool
}

// Stats holds spool statistics
type Stats struct {
	Name        string `json:"name"`
	Records     int    `json:"records"`
	MemoryBytes int64  `json:"memory_bytes"`
	DiskBytes   int64  `json:"disk_bytes"`
}

// New creates a spool. An empty dir uses the system temporary directory.
// The overflow file is only created once memLimit is exceeded.
func New(name string, memLimit int64, dir string) *Spool {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Spool{
		name:     name,
		memLimit: memLimit,
		dir:      dir,
	}
}

// Append stores a copy of data and returns its index.
func (s *Spool) Append(data []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if len(data) > maxRecordSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.memBytes.Load()+int64(len(data)) <= s.memLimit {
		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		s.records = append(s.records, record{mem: dataCopy, length: len(data)})
		s.memBytes.Add(int64(len(data)))
		return len(s.records) - 1, nil
	}

	offset, err := s.writeToDisk(data)
	if err != nil {
		return 0, err
	}
	s.records = append(s.records, record{offset: offset, length: len(data), onDisk: true})
	return len(s.records) - 1, nil
}

// writeToDisk appends a length-prefixed record and returns where it starts.
func (s *Spool) writeToDisk(data []byte) (int64, error) {
	if s.file == nil {
		f, err := os.CreateTemp(s.dir, s.name+"-*.spool")
		if err != nil {
			return 0, fmt.Errorf("failed to create spool file: %w", err)
		}
		s.file = f
		s.writer = bufio.NewWriterSize(f, diskBufferSize)
	}

	offset := s.size
	if err := binary.Write(s.writer, binary.BigEndian, uint32(len(data))); err != nil {
		return 0, fmt.Errorf("failed to write length: %w", err)
	}
	if _, err := s.writer.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write data: %w", err)
	}

	n := int64(lengthPrefix + len(data))
	s.size += n
	s.diskBytes.Add(n)
	return offset, nil
}

// Get returns record i. Records held in memory are returned without
// copying and must not be modified.
func (s *Spool) Get(i int) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.records) {
		return nil, fmt.Errorf("record %d out of range [0,%d)", i, len(s.records))
	}
	r := s.records[i]
	if !r.onDisk {
		return r.mem, nil
	}
	return s.readFromDisk(r)
}

// readFromDisk reads one record, checking its length prefix.
func (s *Spool) readFromDisk(r record) ([]byte, error) {
	if err := s.writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush: %w", err)
	}

	buf := make([]byte, lengthPrefix+r.length)
	if _, err := s.file.ReadAt(buf, r.offset); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrCorruptedData
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	if int(binary.BigEndian.Uint32(buf)) != r.length {
		return nil, ErrCorruptedData
	}
	return buf[lengthPrefix:], nil
}

// Len returns the number of records appended.
func (s *Spool) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close releases memory and removes the overflow file.
func (s *Spool) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return errors.New("spool already closed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.memBytes.Store(0)
	s.diskBytes.Store(0)
	if s.file == nil {
		return nil
	}

	var errs []error
	name := s.file.Name()
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close spool file: %w", err))
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove spool file: %w", err))
	}
	return errors.Join(errs...)
}

// Stats returns spool statistics
func (s *Spool) Stats() Stats {
	s.mu.Lock()
	records := len(s.records)
	s.mu.Unlock()
	return Stats{
		Name:        s.name,
		Records:     records,
		MemoryBytes: s.memBytes.Load(),
		DiskBytes:   s.diskBytes.Load(),
	}
}

// Path returns the overflow file path, or "" while everything fits in memory.
func (s *Spool) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}
