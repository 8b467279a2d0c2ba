// Package observe is the vendor-neutral observability facade the WAL core
// emits typed events through. It implements no transport, aggregation, or
// CLI commands of its own — only the event vocabulary and a Sink interface
// that a real backend can implement. It never carries key or value bytes.
package observe

// WalKind distinguishes the shapes of event the WAL core emits.
type WalKind interface {
	isWalKind()
}

// SegmentRoll is emitted when the active segment is rotated, naming the
// size the *old* segment reached before rotation.
type SegmentRoll struct {
	Bytes uint64
}

// Fsync is emitted each time Append's fsync policy or an explicit Sync
// performs an fsync, naming how long the syscall took. The fsyncs made when
// a segment is rotated or closed emit no Fsync event.
type Fsync struct {
	Millis int64
}

// CorruptionTruncated is emitted once per segment where recovery found and
// discarded a torn or corrupted tail.
type CorruptionTruncated struct{}

func (SegmentRoll) isWalKind()         {}
func (Fsync) isWalKind()               {}
func (CorruptionTruncated) isWalKind() {}

// WalEvt is a single observability event from the WAL core.
type WalEvt struct {
	Node uint32
	Seg  uint64
	Kind WalKind
}

// Sink receives WAL events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(WalEvt)
}

// NopSink discards every event. It is the default sink and is exercised
// directly by tests that don't care about telemetry.
type NopSink struct{}

func (NopSink) Emit(WalEvt) {}
