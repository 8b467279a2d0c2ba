package segment

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"corewal/internal/observe"
	"corewal/internal/record"
)

var segmentNameRE = regexp.MustCompile(`^(\d+)\.wal$`)

// Manager owns the single active append-mode segment file and rotates to a
// new one before an append would carry a non-empty active file past
// Config.MaxSegmentSize. It is the only
// writer of segment files; readers opened via ReadFrom hold their own
// independent file descriptors and never contend with appends.
type Manager struct {
	cfg  Config
	sink observe.Sink

	// mu guards the active-segment triple as one consistent unit: the open
	// file, its id, and its current size. Holding mu across an fsync would
	// stall concurrent appenders behind a syscall, so the fsync baseline
	// lives in a separate mutex below.
	mu     sync.Mutex
	active *segmentFile

	// fsyncMu guards lastFsync independently of mu so that Append's
	// policy-driven fsync runs after the active-segment lock is released.
	// The fsync of the old segment during rotation does run under mu.
	fsyncMu   sync.Mutex
	lastFsync time.Time
}

// NewManager opens (creating Config.Dir if necessary) the highest-numbered
// existing segment as active, or segment 0 if the directory is empty. It
// performs no recovery scanning of its own; callers that need crash
// recovery run internal/recovery before trusting CurrentPosition.
func NewManager(cfg Config, sink observe.Sink) (*Manager, error) {
	if sink == nil {
		sink = observe.NopSink{}
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment: mkdir %s: %w", cfg.Dir, err)
	}
	ids, err := listSegmentIDs(cfg.Dir)
	if err != nil {
		return nil, err
	}
	id := uint64(0)
	if len(ids) > 0 {
		id = ids[len(ids)-1]
	}
	f, err := openSegmentFile(cfg.Dir, id)
	if err != nil {
		return nil, fmt.Errorf("segment: open %06d.wal: %w", id, err)
	}
	return &Manager{cfg: cfg, sink: sink, active: f}, nil
}

// OpenAt is like NewManager but seeds the active segment id and its
// starting size directly, used by recovery to resume after truncating a
// corrupt tail without re-deriving state from the filesystem.
func OpenAt(cfg Config, sink observe.Sink, id uint64, size int64) (*Manager, error) {
	if sink == nil {
		sink = observe.NopSink{}
	}
	f, err := openSegmentFile(cfg.Dir, id)
	if err != nil {
		return nil, fmt.Errorf("segment: open %06d.wal: %w", id, err)
	}
	if f.size != size {
		// The caller's view of the tail (post-truncation) is authoritative.
		if err := f.file.Truncate(size); err != nil {
			f.close()
			return nil, fmt.Errorf("segment: truncate %06d.wal: %w", id, err)
		}
		if _, err := f.file.Seek(size, os.SEEK_SET); err != nil {
			f.close()
			return nil, err
		}
		f.size = size
	}
	return &Manager{cfg: cfg, sink: sink, active: f}, nil
}

func listSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("segment: readdir %s: %w", dir, err)
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentNameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Append encodes r and writes it to the active segment, rotating to a new
// segment first if the write would cross MaxSegmentSize. It returns the
// position of the first byte of the encoded record. Append never fsyncs
// under FsyncOS; under FsyncAlways it fsyncs before returning; under
// FsyncBatch it fsyncs if this is the first append since open or the batch
// window has elapsed since the last fsync.
func (m *Manager) Append(r record.Record) (Position, error) {
	encoded := record.Encode(r)

	m.mu.Lock()
	if m.cfg.MaxSegmentSize > 0 && m.active.size+int64(len(encoded)) > m.cfg.MaxSegmentSize && m.active.size > 0 {
		if err := m.rotateLocked(); err != nil {
			m.mu.Unlock()
			return Position{}, err
		}
	}
	pos := Position{SegmentID: m.active.id, Offset: uint64(m.active.size)}
	if err := m.active.append(encoded); err != nil {
		m.mu.Unlock()
		return Position{}, fmt.Errorf("segment: append to %06d.wal: %w", m.active.id, err)
	}
	active := m.active
	m.mu.Unlock()

	if m.shouldFsync() {
		start := time.Now()
		if err := active.sync(); err != nil {
			return pos, fmt.Errorf("segment: fsync %06d.wal: %w", active.id, err)
		}
		done := time.Now()
		m.recordFsync(done)
		m.sink.Emit(observe.WalEvt{
			Node: m.cfg.NodeID,
			Seg:  active.id,
			Kind: observe.Fsync{Millis: done.Sub(start).Milliseconds()},
		})
	}
	return pos, nil
}

// shouldFsync decides, for the configured policy, whether the append that
// just completed must be followed by an fsync.
func (m *Manager) shouldFsync() bool {
	switch m.cfg.FsyncPolicy.kind {
	case fsyncAlways:
		return true
	case fsyncOS:
		return false
	case fsyncBatch, fsyncUnset:
		// fsyncUnset (a zero-valued Config.FsyncPolicy, window 0) fsyncs
		// every append — the safe fallback for a caller who forgot to set
		// a policy, rather than silently never fsyncing.
		m.fsyncMu.Lock()
		defer m.fsyncMu.Unlock()
		if m.lastFsync.IsZero() {
			return true
		}
		return time.Since(m.lastFsync) >= m.cfg.FsyncPolicy.window
	default:
		return true
	}
}

func (m *Manager) recordFsync(at time.Time) {
	m.fsyncMu.Lock()
	m.lastFsync = at
	m.fsyncMu.Unlock()
}

// rotateLocked closes the current active segment and opens the next one,
// numbered one higher. Callers must hold m.mu.
func (m *Manager) rotateLocked() error {
	prevID, prevSize := m.active.id, m.active.size
	if err := m.active.sync(); err != nil {
		return fmt.Errorf("segment: fsync %06d.wal before rotate: %w", prevID, err)
	}
	if err := m.active.close(); err != nil {
		return fmt.Errorf("segment: close %06d.wal: %w", prevID, err)
	}
	m.sink.Emit(observe.WalEvt{
		Node: m.cfg.NodeID,
		Seg:  prevID,
		Kind: observe.SegmentRoll{Bytes: uint64(prevSize)},
	})
	next, err := openSegmentFile(m.cfg.Dir, prevID+1)
	if err != nil {
		return fmt.Errorf("segment: open %06d.wal: %w", prevID+1, err)
	}
	m.active = next
	return nil
}

// Flush is a no-op placeholder for buffered writers; this Manager writes
// directly to the OS via os.File.Write, so there is no in-process buffer to
// drain. It exists so callers written against a buffered-writer WAL need no
// special case.
func (m *Manager) Flush() error { return nil }

// Sync forces an fsync of the active segment regardless of FsyncPolicy,
// makes its completion the new batch baseline, and emits an observe.Fsync
// event.
func (m *Manager) Sync() error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	start := time.Now()
	if err := active.sync(); err != nil {
		return fmt.Errorf("segment: fsync %06d.wal: %w", active.id, err)
	}
	done := time.Now()
	m.recordFsync(done)
	m.sink.Emit(observe.WalEvt{
		Node: m.cfg.NodeID,
		Seg:  active.id,
		Kind: observe.Fsync{Millis: done.Sub(start).Milliseconds()},
	})
	return nil
}

// CurrentPosition returns the position the next Append will write to.
func (m *Manager) CurrentPosition() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Position{SegmentID: m.active.id, Offset: uint64(m.active.size)}
}

// Close fsyncs and closes the active segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.active.sync(); err != nil {
		m.active.close()
		return fmt.Errorf("segment: fsync %06d.wal on close: %w", m.active.id, err)
	}
	return m.active.close()
}

// ReadFrom opens an independent Reader positioned at pos, for concurrent
// iteration that never blocks or is blocked by appends.
func (m *Manager) ReadFrom(pos Position) (*Reader, error) {
	path := segmentPath(m.cfg.Dir, pos.SegmentID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{ID: pos.SegmentID}
		}
		return nil, fmt.Errorf("segment: open %06d.wal: %w", pos.SegmentID, err)
	}
	if _, err := f.Seek(int64(pos.Offset), os.SEEK_SET); err != nil {
		f.Close()
		return nil, fmt.Errorf("segment: seek %06d.wal: %w", pos.SegmentID, err)
	}
	return &Reader{
		dir:     m.cfg.Dir,
		segID:   pos.SegmentID,
		file:    f,
		offset:  pos.Offset,
		nextSeg: nextSegmentIDProvider(m),
	}, nil
}

// nextSegmentIDProvider returns a func a Reader uses to discover whether a
// higher-numbered segment exists once it hits EOF on the current one,
// without the Reader needing to see Manager's lock.
func nextSegmentIDProvider(m *Manager) func(id uint64) (uint64, bool) {
	return func(id uint64) (uint64, bool) {
		candidate := segmentPath(m.cfg.Dir, id+1)
		if _, err := os.Stat(candidate); err == nil {
			return id + 1, true
		}
		return 0, false
	}
}
