// Package container implements the rvf segmented binary container file:
// fixed header, segment directory, typed segment payloads and a trailing
// whole-file digest.
//
// Writes follow the single-writer model: an advisory lock file guards
// write access, and Flush publishes changes by writing a temp file and
// atomically renaming it over the target, so concurrent readers never
// observe a torn write.
package container

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ruvector/rvf/segment"
)

// State tracks the container lifecycle: Closed -> Opening -> Open ->
// Closing -> Closed. Any I/O error during Opening leaves it Closed.
type State int

const (
	Closed State = iota
	Opening
	Open
	Closing
)

// Options configure Open.
type Options struct {
	// Create allows opening a path that does not exist yet; a fresh empty
	// container is staged in memory and written on the first Flush.
	Create bool

	// ReadOnly opens without taking the write lock. Corrupt segments are
	// tolerated and reported per segment instead of failing the open.
	ReadOnly bool

	// Logger receives structured diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithCreate allows creating the container if the file is absent.
func WithCreate() Option {
	return func(o *Options) { o.Create = true }
}

// WithReadOnly opens the container for inspection only.
func WithReadOnly() Option {
	return func(o *Options) { o.ReadOnly = true }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Segment is an in-memory handle on one directory entry and its payload.
type Segment struct {
	desc    segment.Descriptor
	payload []byte
	crc     uint32
	dirty   bool
	corrupt error // set in read-only mode when the payload CRC disagrees
}

// ID returns the segment id.
func (s *Segment) ID() string { return s.desc.ID }

// Type returns the segment type.
func (s *Segment) Type() segment.Type { return s.desc.Type }

// Len returns the payload length in bytes.
func (s *Segment) Len() int { return len(s.payload) }

// Descriptor returns a copy of the current descriptor. Offset and Length
// reflect the last flushed layout.
func (s *Segment) Descriptor() segment.Descriptor { return s.desc }

// Payload returns the segment payload. It fails for a segment whose CRC
// disagreed at open time.
func (s *Segment) Payload() ([]byte, error) {
	if s.corrupt != nil {
		return nil, s.corrupt
	}
	return s.payload, nil
}

// Container is an open rvf container file.
type Container struct {
	path string

	mu       sync.RWMutex
	state    State
	readOnly bool
	header   fileHeader
	segments []*Segment
	byID     map[string]*Segment
	lock     *fileLock
	dirty    bool

	lastChecksumOK bool

	logger *slog.Logger
}

// OpenFile opens (or with WithCreate, stages) the container at path.
//
// Error taxonomy: ErrNotFound for an absent path without WithCreate,
// *ChecksumError when the whole-file digest disagrees, *VersionError for
// a newer major version, *segment.CorruptError for structural damage.
func OpenFile(path string, optFns ...Option) (*Container, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Container{
		path:     path,
		state:    Opening,
		readOnly: opts.ReadOnly,
		header:   fileHeader{Major: MajorVersion, Minor: MinorVersion, DirOffset: HeaderSize},
		byID:     make(map[string]*Segment),
		logger:   opts.Logger,
	}

	if err := c.open(opts); err != nil {
		c.state = Closed
		if c.lock != nil {
			_ = c.lock.release()
			c.lock = nil
		}
		return nil, err
	}

	c.state = Open
	c.logger.Debug("container opened",
		"path", path,
		"segments", len(c.segments),
		"read_only", c.readOnly,
	)

	return c, nil
}

func (c *Container) open(opts Options) error {
	if !opts.ReadOnly {
		lock, err := acquireLock(c.path)
		if err != nil {
			return err
		}
		c.lock = lock
	}

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		if !opts.Create {
			return fmt.Errorf("%w: %s", ErrNotFound, c.path)
		}
		// Fresh container staged in memory; written on first Flush.
		c.dirty = true
		c.lastChecksumOK = true
		return nil
	}
	if err != nil {
		return err
	}

	return c.load(data, opts.ReadOnly)
}

func (c *Container) load(data []byte, readOnly bool) error {
	if len(data) < HeaderSize+DigestSize {
		return &segment.CorruptError{Reason: "file too small for container"}
	}

	body := data[:len(data)-DigestSize]
	want := data[len(data)-DigestSize:]
	got := sha256.Sum256(body)
	if string(got[:]) != string(want) {
		c.lastChecksumOK = false
		return &ChecksumError{Expected: want, Actual: got[:]}
	}
	c.lastChecksumOK = true

	h, err := decodeHeader(body)
	if err != nil {
		return err
	}
	c.header = h

	if h.DirOffset < HeaderSize || h.DirOffset > uint64(len(body)) {
		return &segment.CorruptError{Reason: "directory offset out of range"}
	}

	descriptors, err := decodeDirectory(body[h.DirOffset:], uint64(len(data)))
	if err != nil {
		return err
	}

	for i := range descriptors {
		d := descriptors[i]
		payload := data[d.Offset : d.Offset+d.Length]

		seg := &Segment{
			desc:    d,
			payload: append([]byte(nil), payload...),
			crc:     crc32.ChecksumIEEE(payload),
		}
		if seg.crc != d.Checksum {
			corrupt := &segment.CorruptError{Segment: d.ID, Reason: "payload crc disagrees with directory"}
			if !readOnly {
				return corrupt
			}
			// Read-only inspection tolerates damaged segments and keeps
			// the unaffected ones accessible.
			seg.corrupt = corrupt
			c.logger.Warn("segment corrupt, read-only inspection continues",
				"segment", d.ID,
				"type", d.Type.String(),
			)
		}

		c.segments = append(c.segments, seg)
		c.byID[d.ID] = seg
	}

	return nil
}

// Path returns the container file path.
func (c *Container) Path() string { return c.path }

// State returns the lifecycle state.
func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ReadOnly reports whether the container rejects mutations.
func (c *Container) ReadOnly() bool { return c.readOnly }

// LastChecksumOK reports whether the most recent whole-file verification
// succeeded.
func (c *Container) LastChecksumOK() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastChecksumOK
}

// SegmentCount returns the number of directory entries.
func (c *Container) SegmentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.segments)
}

// SegmentIDs returns the segment ids sorted lexically.
func (c *Container) SegmentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.segments))
	for _, s := range c.segments {
		ids = append(ids, s.desc.ID)
	}
	sort.Strings(ids)
	return ids
}

// Segment returns the segment with the given id.
func (c *Container) Segment(id string) (*Segment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != Open {
		return nil, ErrClosed
	}
	s, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSegmentNotFound, id)
	}
	return s, nil
}

// CreateSegment adds an empty segment of the given type to the directory.
func (c *Container) CreateSegment(id string, t segment.Type) (*Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open {
		return nil, ErrClosed
	}
	if c.readOnly {
		return nil, ErrReadOnly
	}
	if _, ok := c.byID[id]; ok {
		return nil, fmt.Errorf("%w: %q", ErrSegmentExists, id)
	}
	if len(id) == 0 || len(id) > segment.MaxIDLen {
		return nil, &segment.CorruptError{Segment: id, Reason: fmt.Sprintf("segment id must be 1-%d bytes", segment.MaxIDLen)}
	}

	seg := &Segment{
		desc:  segment.Descriptor{ID: id, Type: t},
		crc:   crc32.ChecksumIEEE(nil),
		dirty: true,
	}
	c.segments = append(c.segments, seg)
	c.byID[id] = seg
	c.dirty = true

	return seg, nil
}

// SetPayload replaces a segment's payload wholesale. Used by codecs that
// rewrite their stream (KV versioning, META updates, INDEX snapshots).
func (c *Container) SetPayload(id string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setPayloadLocked(id, payload)
}

func (c *Container) setPayloadLocked(id string, payload []byte) error {
	if c.state != Open {
		return ErrClosed
	}
	if c.readOnly {
		return ErrReadOnly
	}
	s, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSegmentNotFound, id)
	}
	if s.corrupt != nil {
		return s.corrupt
	}

	s.payload = payload
	s.crc = crc32.ChecksumIEEE(payload)
	s.dirty = true
	c.dirty = true

	return nil
}

// AppendPayload extends an append-oriented segment (LOG, SNAP, VEC). The
// segment checksum is updated incrementally, so the cost of a later Flush
// scales with the appended bytes, not the segment size.
func (c *Container) AppendPayload(id string, more []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open {
		return ErrClosed
	}
	if c.readOnly {
		return ErrReadOnly
	}
	s, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSegmentNotFound, id)
	}
	if s.corrupt != nil {
		return s.corrupt
	}

	s.payload = append(s.payload, more...)
	s.crc = crc32.Update(s.crc, crc32.IEEETable, more)
	s.dirty = true
	c.dirty = true

	return nil
}

// Flush writes the container atomically: serialize to a temp file next to
// the target, fsync, rename over the target, fsync the directory. A
// concurrent reader sees either the old file or the new one, never a
// partial write.
func (c *Container) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open {
		return ErrClosed
	}

	return c.flushLocked()
}

func (c *Container) flushLocked() error {
	if c.readOnly {
		return ErrReadOnly
	}
	if !c.dirty {
		return nil
	}

	descriptors := make([]segment.Descriptor, len(c.segments))
	offset := uint64(HeaderSize) + directorySize(len(c.segments))
	for i, s := range c.segments {
		s.desc.Offset = offset
		s.desc.Length = uint64(len(s.payload))
		s.desc.Checksum = s.crc
		descriptors[i] = s.desc
		offset += s.desc.Length
	}

	dir, err := encodeDirectory(descriptors)
	if err != nil {
		return err
	}

	header := fileHeader{Major: MajorVersion, Minor: MinorVersion, DirOffset: HeaderSize}

	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	digest := sha256.New()
	write := func(p []byte) error {
		if err != nil {
			return err
		}
		digest.Write(p)
		_, err = f.Write(p)
		return err
	}

	err = nil
	_ = write(header.encode())
	_ = write(dir)
	for _, s := range c.segments {
		_ = write(s.payload)
	}
	if err == nil {
		_, err = f.Write(digest.Sum(nil))
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("flush container: %w", err)
	}

	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish container: %w", err)
	}
	if err := syncDir(filepath.Dir(c.path)); err != nil {
		return err
	}

	c.header = header
	for _, s := range c.segments {
		s.dirty = false
	}
	c.dirty = false
	c.lastChecksumOK = true

	c.logger.Debug("container flushed",
		"path", c.path,
		"segments", len(c.segments),
		"bytes", offset+DigestSize,
	)

	return nil
}

// Close flushes pending changes (when writable), releases the write lock
// and invalidates the handle.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open {
		return nil
	}
	c.state = Closing

	var err error
	if !c.readOnly && c.dirty {
		err = c.flushLocked()
	}

	if c.lock != nil {
		if lockErr := c.lock.release(); err == nil {
			err = lockErr
		}
		c.lock = nil
	}
	c.state = Closed

	return err
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
