package segment

import (
	"context"
	"sync/atomic"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
)

// Reader is the contract the query core (C4-C6) consumes from a
// compacted record segment. Every method that can touch disk takes a
// context, per spec's suspension-point model; CurrentMaxOffsetID is a
// plain relaxed atomic read and does not suspend.
//
// A nil Reader is a valid value meaning "segment not yet initialized";
// callers must pass a literal nil (never a typed nil pointer) so the nil
// check at call sites (`reader == nil`) behaves as expected.
type Reader interface {
	// Count returns the number of rows in the segment.
	Count(ctx context.Context) (int, error)
	// CurrentMaxOffsetID returns the largest offset id ever assigned,
	// which may exceed the largest id still present after deletes.
	CurrentMaxOffsetID() uint32
	// GetOffsetIDRank returns the number of segment offset ids strictly
	// less than o.
	GetOffsetIDRank(ctx context.Context, o uint32) (int, error)
	// GetOffsetIDAtIndex returns the i-th offset id in sorted order.
	GetOffsetIDAtIndex(ctx context.Context, i int) (uint32, error)
	// GetUserIDForOffsetID looks up the user id for offset id o.
	GetUserIDForOffsetID(ctx context.Context, o uint32) (string, error)
	// GetDataForOffsetID looks up the full record for offset id o.
	GetDataForOffsetID(ctx context.Context, o uint32) (*apiv1.Record, error)
	// GetAllOffsetIDs returns every offset id in sorted order.
	GetAllOffsetIDs(ctx context.Context) ([]uint32, error)
}

// DiskReader is the reference Reader implementation: an mmap'd sorted
// offset index fronting a length-prefixed payload store, the same
// index+store pairing as internal/log/segment.go.
type DiskReader struct {
	index   *offsetIndex
	store   *payloadStore
	current *atomic.Uint32
}

var _ Reader = (*DiskReader)(nil)

func (r *DiskReader) Count(_ context.Context) (int, error) {
	return r.index.entryCount(), nil
}

func (r *DiskReader) CurrentMaxOffsetID() uint32 {
	return r.current.Load()
}

func (r *DiskReader) GetOffsetIDRank(_ context.Context, o uint32) (int, error) {
	return r.index.rank(o), nil
}

func (r *DiskReader) GetOffsetIDAtIndex(_ context.Context, i int) (uint32, error) {
	return r.index.selectAt(i)
}

func (r *DiskReader) GetUserIDForOffsetID(_ context.Context, o uint32) (string, error) {
	pos, ok := r.index.lookup(o)
	if !ok {
		return "", ErrNotFound
	}
	b, err := r.store.readAt(pos)
	if err != nil {
		return "", err
	}
	userID, _, _, err := decodePayload(b)
	return userID, err
}

func (r *DiskReader) GetDataForOffsetID(_ context.Context, o uint32) (*apiv1.Record, error) {
	pos, ok := r.index.lookup(o)
	if !ok {
		return nil, ErrNotFound
	}
	b, err := r.store.readAt(pos)
	if err != nil {
		return nil, err
	}
	userID, md, doc, err := decodePayload(b)
	if err != nil {
		return nil, err
	}
	var metadata apiv1.Metadata
	if len(md) > 0 {
		metadata = apiv1.Metadata(md)
	}
	return &apiv1.Record{OffsetID: o, UserID: userID, Metadata: metadata, Document: doc}, nil
}

func (r *DiskReader) GetAllOffsetIDs(_ context.Context) ([]uint32, error) {
	n := r.index.entryCount()
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		off, err := r.index.selectAt(i)
		if err != nil {
			return nil, err
		}
		out[i] = off
	}
	return out, nil
}

// Close releases the segment's backing files.
func (r *DiskReader) Close() error {
	if err := r.index.close(); err != nil {
		return err
	}
	return r.store.close()
}
