package server

import (
	"context"
	"net/http"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
	"github.com/mrshabel/vectorq/internal/materializer"
	"github.com/mrshabel/vectorq/internal/segment"
)

// CommitLog is the durable mutation log a server instance fronts. Both
// *log.Log (standalone) and *log.DistributedLog (raft-replicated) satisfy
// it; the query handlers only ever see it through this interface.
type CommitLog interface {
	Append(*apiv1.LogRecord) (uint64, error)
	Read(uint64) (*apiv1.LogRecord, error)
	Chunk(from uint64, count int) ([]apiv1.LogRecord, error)
	LowestOffset() (uint64, error)
	HighestOffset() (uint64, error)
}

// Authorizer checks whether subject may perform action on object.
type Authorizer interface {
	Authorize(subject, object, action string) error
}

// Config wires a server instance to its collaborators. Reader is the
// compacted segment backing the query core; it is nil for a server that
// has not run compaction yet, in which case the materializer falls back
// to a log-only view of the data.
type Config struct {
	CommitLog  CommitLog
	Reader     segment.Reader
	Authorizer Authorizer
}

// access control constants
const (
	objectWildCard = "*"
	produceAction  = "produce"
	consumeAction  = "consume"
	queryAction    = "read"
)

// materializeLog pulls every log record currently retained and folds it
// into terminal per-offset-id state against the compacted segment. It is
// the collaborator the query handlers call before running the Limit or
// MergeAndHydrate operator.
func (c *Config) materializeLog(ctx context.Context) (map[uint32]*materializer.Entry, error) {
	lo, err := c.CommitLog.LowestOffset()
	if err != nil {
		return nil, err
	}
	hi, err := c.CommitLog.HighestOffset()
	if err != nil {
		return nil, err
	}
	if hi < lo {
		return map[uint32]*materializer.Entry{}, nil
	}
	recs, err := c.CommitLog.Chunk(lo, int(hi-lo)+1)
	if err != nil {
		return nil, err
	}
	return materializer.Materialize(ctx, c.Reader, recs)
}

// subject reads the common name off the client's verified TLS
// certificate chain, the way the grpc transport used to read it off the
// peer's AuthInfo. An http.Request with no client certificate (plaintext
// listener, used in tests) resolves to the empty subject.
func subject(r *http.Request) string {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return ""
	}
	return r.TLS.PeerCertificates[0].Subject.CommonName
}
