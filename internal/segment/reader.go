package segment

import (
	"errors"
	"io"
	"os"

	"corewal/internal/record"
)

// Reader iterates records forward from a Position, crossing segment
// boundaries transparently. It holds its own file descriptor, independent
// of the Manager's active segment, so it never blocks or is blocked by
// concurrent appends.
type Reader struct {
	dir     string
	segID   uint64
	file    *os.File
	offset  uint64
	nextSeg func(id uint64) (uint64, bool)
}

// Next decodes and returns the next record along with the position it was
// read from. It returns io.EOF once the reader has consumed every fully
// written record across every existing segment; a truncated trailing
// record on the active segment also surfaces as io.EOF, since a record
// still being appended is indistinguishable from end-of-stream to a
// reader. A checksum mismatch on an otherwise complete record is returned
// as *record.CrcMismatchError, since that can only mean on-disk corruption
// rather than a concurrent in-progress write.
func (r *Reader) Next() (record.Record, Position, error) {
	for {
		rec, pos, err := r.readOne()
		if err == nil {
			return rec, pos, nil
		}
		if errors.Is(err, record.ErrIncomplete) {
			if r.advanceSegment() {
				continue
			}
			return record.Record{}, Position{}, io.EOF
		}
		return record.Record{}, Position{}, err
	}
}

func (r *Reader) readOne() (record.Record, Position, error) {
	pos := Position{SegmentID: r.segID, Offset: r.offset}
	return r.decodeAt(pos)
}

// decodeAt reads progressively larger windows starting at pos.Offset until
// record.Decode succeeds or definitively runs out of input.
func (r *Reader) decodeAt(pos Position) (record.Record, Position, error) {
	const initial = 256
	size := initial
	for {
		buf := make([]byte, size)
		n, readErr := r.file.ReadAt(buf, int64(pos.Offset))
		buf = buf[:n]
		if n == 0 {
			if readErr == io.EOF || readErr == nil {
				return record.Record{}, Position{}, record.ErrIncomplete
			}
			return record.Record{}, Position{}, readErr
		}
		rec, consumed, decErr := record.Decode(buf)
		if decErr == nil {
			r.offset = pos.Offset + uint64(consumed)
			if _, err := r.file.Seek(int64(r.offset), os.SEEK_SET); err != nil {
				return record.Record{}, Position{}, err
			}
			return rec, pos, nil
		}
		if errors.Is(decErr, record.ErrIncomplete) {
			if readErr == io.EOF || n < size {
				// Read everything available and it still doesn't decode:
				// a genuinely truncated trailing record.
				return record.Record{}, Position{}, record.ErrIncomplete
			}
			size *= 2
			continue
		}
		return record.Record{}, Position{}, decErr
	}
}

// advanceSegment moves the reader to segment+1 if it exists, returning
// false if the current segment is the last one on disk.
func (r *Reader) advanceSegment() bool {
	next, ok := r.nextSeg(r.segID)
	if !ok {
		return false
	}
	path := segmentPath(r.dir, next)
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	r.file.Close()
	r.file = f
	r.segID = next
	r.offset = 0
	return true
}

// Close releases the reader's file descriptor.
func (r *Reader) Close() error {
	return r.file.Close()
}
