package segment

import (
	"os"
)

// segmentFile is the active append-mode handle for one on-disk segment.
// Its triple (file, id, size) is always guarded by Manager.mu so readers of
// size always see bytes that are actually on disk.
type segmentFile struct {
	id   uint64
	file *os.File
	size int64
}

// openSegmentFile opens (creating if necessary) the segment named by id for
// read+write, positioned at end-of-file. It never truncates an existing
// file.
func openSegmentFile(dir string, id uint64) (*segmentFile, error) {
	path := segmentPath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, err
	}
	return &segmentFile{id: id, file: f, size: info.Size()}, nil
}

// append writes the full encoded buffer. A short write is completed before
// returning; partial writes are never observable to callers.
func (s *segmentFile) append(encoded []byte) error {
	n, err := s.file.Write(encoded)
	for n < len(encoded) && err == nil {
		var more int
		more, err = s.file.Write(encoded[n:])
		n += more
	}
	if err != nil {
		if n > 0 {
			// Drop the partial bytes so the file ends where size says it does.
			if terr := s.file.Truncate(s.size); terr == nil {
				s.file.Seek(s.size, os.SEEK_SET)
			}
		}
		return err
	}
	s.size += int64(n)
	return nil
}

// sync performs the configured durability syscall on the segment file.
func (s *segmentFile) sync() error {
	return fdatasync(s.file.Fd())
}

func (s *segmentFile) close() error {
	return s.file.Close()
}
