package segment

import (
	"io"
	"testing"
	"time"

	"corewal/internal/record"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAppendReturnsStrictlyIncreasingPositions(t *testing.T) {
	cfg := DefaultConfig()
	m := newTestManager(t, cfg)

	var prev Position
	for i := 0; i < 50; i++ {
		pos, err := m.Append(record.Put([]byte("k"), []byte("v")))
		if err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
		if i > 0 && !prev.Less(pos) {
			t.Fatalf("position did not increase: prev=%v next=%v", prev, pos)
		}
		prev = pos
	}
}

func TestAppendRotatesAtMaxSegmentSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSegmentSize = 64
	m := newTestManager(t, cfg)

	var sawRotation bool
	for i := 0; i < 40; i++ {
		pos, err := m.Append(record.Put([]byte("key"), []byte("value-payload")))
		if err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
		if pos.SegmentID > 0 {
			sawRotation = true
		}
	}
	if !sawRotation {
		t.Fatal("expected at least one rotation past segment 0")
	}
}

func TestReadFromRoundTripsAcrossSegments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSegmentSize = 48
	m := newTestManager(t, cfg)

	var written []record.Record
	for i := 0; i < 20; i++ {
		r := record.Put([]byte("k"), []byte("value"))
		if _, err := m.Append(r); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
		written = append(written, r)
	}

	reader, err := m.ReadFrom(Position{SegmentID: 0, Offset: 0})
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	defer reader.Close()

	var got []record.Record
	for {
		rec, _, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, rec)
	}
	if len(got) != len(written) {
		t.Fatalf("got %d records, want %d", len(got), len(written))
	}
	for i := range got {
		if string(got[i].Key) != string(written[i].Key) || string(got[i].Value) != string(written[i].Value) {
			t.Fatalf("record %d mismatch: got %+v want %+v", i, got[i], written[i])
		}
	}
}

func TestReadFromUnknownSegmentReturnsNotFound(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	_, err := m.ReadFrom(Position{SegmentID: 99, Offset: 0})
	if err == nil {
		t.Fatal("expected error")
	}
	nf, ok := err.(*NotFoundError)
	if !ok {
		t.Fatalf("got %T, want *NotFoundError", err)
	}
	if nf.ID != 99 {
		t.Fatalf("got ID %d, want 99", nf.ID)
	}
}

func TestFsyncAlwaysFsyncsEveryAppend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FsyncPolicy = FsyncAlways()
	m := newTestManager(t, cfg)

	if _, err := m.Append(record.Put([]byte("a"), []byte("1"))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	m.fsyncMu.Lock()
	last := m.lastFsync
	m.fsyncMu.Unlock()
	if last.IsZero() {
		t.Fatal("expected lastFsync to be set under FsyncAlways")
	}
}

func TestFsyncBatchSkipsWithinWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FsyncPolicy = FsyncBatch(time.Hour)
	m := newTestManager(t, cfg)

	if _, err := m.Append(record.Put([]byte("a"), []byte("1"))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	m.fsyncMu.Lock()
	first := m.lastFsync
	m.fsyncMu.Unlock()
	if first.IsZero() {
		t.Fatal("expected first append to fsync")
	}

	if _, err := m.Append(record.Put([]byte("b"), []byte("2"))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	m.fsyncMu.Lock()
	second := m.lastFsync
	m.fsyncMu.Unlock()
	if !first.Equal(second) {
		t.Fatal("expected second append within the window to skip fsync")
	}
}

func TestCurrentPositionAdvances(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	start := m.CurrentPosition()
	if _, err := m.Append(record.Put([]byte("k"), []byte("v"))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	after := m.CurrentPosition()
	if !start.Less(after) {
		t.Fatalf("CurrentPosition did not advance: start=%v after=%v", start, after)
	}
}

func TestTombstoneRoundTrip(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	if _, err := m.Append(record.Delete([]byte("gone"))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	reader, err := m.ReadFrom(Position{})
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	defer reader.Close()
	rec, _, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !rec.Tombstone {
		t.Fatal("expected tombstone flag set")
	}
	if len(rec.Value) != 0 {
		t.Fatalf("expected empty value for tombstone, got %q", rec.Value)
	}
}

func TestTTLRoundTrip(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	ttl := 30 * time.Second
	if _, err := m.Append(record.PutWithTTL([]byte("k"), []byte("v"), ttl)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	reader, err := m.ReadFrom(Position{})
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	defer reader.Close()
	rec, _, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !rec.TTLPresent || rec.TTL != ttl {
		t.Fatalf("got TTLPresent=%v TTL=%v, want true/%v", rec.TTLPresent, rec.TTL, ttl)
	}
}
