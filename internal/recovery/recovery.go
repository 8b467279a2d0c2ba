// Package recovery drives the one-time replay that runs when a WAL is
// opened: it walks existing segments in order, validates every record, and
// truncates at the first boundary it cannot trust.
package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"corewal/internal/observe"
	"corewal/internal/record"
	"corewal/internal/segment"
)

var segmentNameRE = regexp.MustCompile(`^(\d+)\.wal$`)

// Info summarizes what a Run found. It is safe to run Run again against
// the same directory; a second pass over an already-clean tail reports
// CorruptionDetected=false and TruncatedBytes=0.
type Info struct {
	SegmentsScanned    int
	ValidRecords       int
	CorruptionDetected bool
	TruncatedBytes     int64
	LastPosition       segment.Position
}

// Run scans every NNNNNN.wal file in dir in ascending order, replaying
// records with record.Decode. It stops at the first record it cannot
// fully trust — an incomplete trailing write or a checksum mismatch — and
// truncates that segment to the end of the last valid record, discarding
// everything at or after the bad boundary. Segments before the one
// containing the break are left untouched; segments after it are never
// visited. A directory with no segment files at all is treated as a fresh
// WAL: Run reports a zero Info and leaves segment creation to the Manager.
// nodeID is carried on every emitted observe.WalEvt, matching the
// node-id-as-input requirement of the recovery driver.
func Run(dir string, nodeID uint32, sink observe.Sink) (Info, error) {
	if sink == nil {
		sink = observe.NopSink{}
	}
	ids, err := listSegmentIDs(dir)
	if err != nil {
		return Info{}, err
	}
	if len(ids) == 0 {
		return Info{LastPosition: segment.Position{SegmentID: 0, Offset: 0}}, nil
	}

	var info Info
	for _, id := range ids {
		info.SegmentsScanned++
		path := segmentPath(dir, id)
		data, err := os.ReadFile(path)
		if err != nil {
			return info, fmt.Errorf("recovery: read %06d.wal: %w", id, err)
		}

		validLen, validCount, broke := replay(data)
		info.ValidRecords += validCount
		info.LastPosition = segment.Position{SegmentID: id, Offset: uint64(validLen)}

		if broke {
			truncated := int64(len(data)) - int64(validLen)
			if truncated > 0 {
				info.CorruptionDetected = true
				info.TruncatedBytes += truncated
				if err := os.Truncate(path, int64(validLen)); err != nil {
					return info, fmt.Errorf("recovery: truncate %06d.wal: %w", id, err)
				}
				sink.Emit(observe.WalEvt{
					Node: nodeID,
					Seg:  id,
					Kind: observe.CorruptionTruncated{},
				})
			}
			// A break on any segment, including the last, means nothing
			// past it can be trusted — later segments are never reached
			// by a live writer that crashed mid-append to this one.
			break
		}
	}
	return info, nil
}

// replay decodes consecutive records from data, returning the byte offset
// through the last fully valid record, how many records decoded cleanly,
// and whether decoding stopped early because of a bad boundary (as opposed
// to reaching the exact end of data).
func replay(data []byte) (validLen int, validCount int, broke bool) {
	offset := 0
	for offset < len(data) {
		// Any decode error — an incomplete trailing write, a checksum
		// mismatch, or invalid compression bits — marks this as the first
		// untrustworthy boundary; offset is the end of the last good record.
		_, consumed, err := record.Decode(data[offset:])
		if err != nil {
			return offset, validCount, true
		}
		offset += consumed
		validCount++
	}
	return offset, validCount, false
}

func listSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("recovery: readdir %s: %w", dir, err)
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

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, segmentFileName(id))
}

func segmentFileName(id uint64) string {
	return fmt.Sprintf("%06d.wal", id)
}
