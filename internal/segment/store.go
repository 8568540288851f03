// Package segment implements the record segment reader adapter: a
// contract wrapping the on-disk compacted segment (count, max offset,
// rank, select, lookup by offset id), plus a reference on-disk
// implementation built on the same length-prefixed store / sparse index
// pairing as internal/log.
package segment

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"sync"
)

// ErrNotFound is returned by lookups for an offset id absent from the
// segment.
var ErrNotFound = errors.New("segment: offset id not found")

var enc = binary.BigEndian

const lenWidth = 8

// payloadStore is a length-prefixed record file, the same shape as
// internal/log/store.go.
type payloadStore struct {
	*os.File
	mu   sync.Mutex
	buf  *bufio.Writer
	size uint64
}

func newPayloadStore(f *os.File) (*payloadStore, error) {
	fi, err := os.Stat(f.Name())
	if err != nil {
		return nil, err
	}
	return &payloadStore{
		File: f,
		size: uint64(fi.Size()),
		buf:  bufio.NewWriter(f),
	}, nil
}

// append writes p (already encoded) and returns its position.
func (s *payloadStore) append(p []byte) (pos uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos = s.size
	if err := binary.Write(s.buf, enc, uint64(len(p))); err != nil {
		return 0, err
	}
	n, err := s.buf.Write(p)
	if err != nil {
		return 0, err
	}
	s.size += uint64(n) + lenWidth
	return pos, nil
}

func (s *payloadStore) readAt(pos uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return nil, err
	}
	size := make([]byte, lenWidth)
	if _, err := s.File.ReadAt(size, int64(pos)); err != nil {
		return nil, err
	}
	b := make([]byte, enc.Uint64(size))
	if _, err := s.File.ReadAt(b, int64(pos+lenWidth)); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *payloadStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.File.Close()
}

// payload is the JSON-encoded body stored for every offset id. The
// teacher encodes its store payloads with protobuf; this module has no
// protoc-generated descriptors available (see DESIGN.md), so the
// payload codec is JSON instead.
type payload struct {
	UserID   string          `json:"user_id"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Document *string         `json:"document,omitempty"`
}

func encodePayload(userID string, metadata map[string]any, document *string) ([]byte, error) {
	var rawMeta json.RawMessage
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		rawMeta = b
	}
	return json.Marshal(payload{UserID: userID, Metadata: rawMeta, Document: document})
}

func decodePayload(b []byte) (userID string, metadata map[string]any, document *string, err error) {
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return "", nil, nil, err
	}
	var md map[string]any
	if len(p.Metadata) > 0 {
		if err := json.Unmarshal(p.Metadata, &md); err != nil {
			return "", nil, nil, err
		}
	}
	return p.UserID, md, p.Document, nil
}
