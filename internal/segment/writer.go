package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// DefaultMaxIndexBytes bounds how large a segment's offset index file
// may grow before being memory-mapped; mirrors internal/log's
// Config.Segment.MaxIndexBytes default of 1024, scaled up since a
// compacted segment is typically much larger than one log segment.
const DefaultMaxIndexBytes = 1 << 20

// Writer builds a compacted segment on disk. Full segment compaction
// (blockfile storage, caching, background rewrite) is out of scope here;
// the query operators still need something real to read from in tests,
// so Writer produces the same on-disk shape DiskReader consumes.
//
// Rows must be appended in strictly increasing offset id order, which
// is what a real compaction pass over an already-sorted log would
// naturally produce.
type Writer struct {
	dir          string
	index        *offsetIndex
	store        *payloadStore
	indexFile    *os.File
	storeFile    *os.File
	maxOffsetID  uint32
	lastWritten  int64
	maxIndexSize uint64
}

// NewWriter creates a segment builder rooted at dir (which must exist).
func NewWriter(dir string, maxIndexBytes uint64) (*Writer, error) {
	if maxIndexBytes == 0 {
		maxIndexBytes = DefaultMaxIndexBytes
	}
	storeFile, err := os.OpenFile(filepath.Join(dir, "segment.store"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	store, err := newPayloadStore(storeFile)
	if err != nil {
		return nil, err
	}
	indexFile, err := os.OpenFile(filepath.Join(dir, "segment.index"), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	index, err := newOffsetIndex(indexFile, maxIndexBytes)
	if err != nil {
		return nil, err
	}
	return &Writer{
		dir: dir, index: index, store: store,
		indexFile: indexFile, storeFile: storeFile,
		lastWritten: -1, maxIndexSize: maxIndexBytes,
	}, nil
}

// Append writes one row. offsetID must be strictly greater than every
// previously appended offsetID.
func (w *Writer) Append(offsetID uint32, userID string, metadata map[string]any, document *string) error {
	if int64(offsetID) <= w.lastWritten {
		return fmt.Errorf("segment writer: offset id %d out of order (last %d)", offsetID, w.lastWritten)
	}
	p, err := encodePayload(userID, metadata, document)
	if err != nil {
		return err
	}
	pos, err := w.store.append(p)
	if err != nil {
		return err
	}
	if err := w.index.write(offsetID, pos); err != nil {
		return err
	}
	w.lastWritten = int64(offsetID)
	if offsetID > w.maxOffsetID {
		w.maxOffsetID = offsetID
	}
	return nil
}

// SetCurrentMaxOffsetID overrides the "largest offset id ever assigned"
// counter exposed by the resulting reader; useful for simulating
// deletes past the last surviving row. Defaults to the largest appended
// offset id.
func (w *Writer) SetCurrentMaxOffsetID(id uint32) {
	w.maxOffsetID = id
}

// Build closes the writer and returns a read-only DiskReader over the
// segment just written.
func (w *Writer) Build() (*DiskReader, error) {
	if err := w.store.close(); err != nil {
		return nil, err
	}
	if err := w.index.close(); err != nil {
		return nil, err
	}

	storeFile, err := os.OpenFile(filepath.Join(w.dir, "segment.store"), os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	store, err := newPayloadStore(storeFile)
	if err != nil {
		return nil, err
	}
	indexFile, err := os.OpenFile(filepath.Join(w.dir, "segment.index"), os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	fi, err := indexFile.Stat()
	if err != nil {
		return nil, err
	}
	index, err := newOffsetIndex(indexFile, uint64(fi.Size()))
	if err != nil {
		return nil, err
	}
	current := &atomic.Uint32{}
	current.Store(w.maxOffsetID)
	return &DiskReader{index: index, store: store, current: current}, nil
}
