package segment

import (
	"fmt"
	"path/filepath"
)

// Position names the first byte of a record within a segment file.
// Positions are totally ordered lexicographically on (SegmentID, Offset)
// and are monotonically non-decreasing across successive appends.
type Position struct {
	SegmentID uint64
	Offset    uint64
}

// Less reports whether p sorts strictly before other in (SegmentID, Offset)
// lexicographic order.
func (p Position) Less(other Position) bool {
	if p.SegmentID != other.SegmentID {
		return p.SegmentID < other.SegmentID
	}
	return p.Offset < other.Offset
}

func (p Position) String() string {
	return fmt.Sprintf("%06d.wal@%d", p.SegmentID, p.Offset)
}

// segmentFileName returns the canonical on-disk name for segment id: a
// decimal, zero-padded to six digits, with a ".wal" extension. Readers
// accept more digits; this is what the manager ever writes.
func segmentFileName(id uint64) string {
	return fmt.Sprintf("%06d.wal", id)
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, segmentFileName(id))
}
