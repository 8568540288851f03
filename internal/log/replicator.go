// this file contains the implementation of a replication component that uses a native pull-replication approach to retrieve data when a server joins or leaves
package log

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
	"go.uber.org/zap"
)

// pollInterval is how often a replicate goroutine asks a peer for
// records past the last one it pulled, once it has caught up to the
// peer's tail.
const pollInterval = 100 * time.Millisecond

// Replicator pull-replicates every peer that joins the cluster: for
// each one, it polls the peer's HTTP log endpoint from offset 0 onward
// and appends whatever it hasn't seen yet straight into LocalServer, in
// process, with no second network hop for the local write.
type Replicator struct {
	// HTTPClient dials peer servers. Give it a Transport with
	// TLSClientConfig set to use mutual TLS against peers, matching
	// Scheme.
	HTTPClient *http.Client
	// Scheme is "http" or "https", matched to whatever HTTPClient's
	// transport is configured to speak.
	Scheme string
	// LocalServer is this node's own commit log.
	LocalServer interface {
		Append(*apiv1.LogRecord) (uint64, error)
	}

	logger *zap.Logger
	mu     sync.Mutex
	// servers is a map of all server names to channels that can be used to stop replicating data from that server
	servers map[string]chan struct{}
	// status of the replicator
	closed bool
	// close channel for the replicator
	close chan struct{}
}

// Join adds the server address to the list of servers to start replication
func (r *Replicator) Join(name, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// initialize replicator
	r.init()

	// stop operation if replicator is closed
	if r.closed {
		return nil
	}
	// skip if server is already replicating
	if _, ok := r.servers[name]; ok {
		return nil
	}

	r.servers[name] = make(chan struct{})

	// begin replication in the background
	go r.replicate(addr, r.servers[name])
	return nil
}

// replicate polls addr's log endpoint starting at offset 0, appending
// every record it receives to LocalServer, and keeps polling at
// pollInterval once it has caught up so it also picks up records
// produced on addr after replication started.
func (r *Replicator) replicate(addr string, leave chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var next uint64
	for {
		for {
			rec, ok, err := r.fetch(addr, next)
			if err != nil {
				r.logError(err, "failed to fetch record from peer", addr)
				break
			}
			if !ok {
				break
			}
			if _, err := r.LocalServer.Append(rec); err != nil {
				r.logError(err, "failed to append replicated record locally", addr)
				break
			}
			next++
		}

		select {
		// stop operations when replicator is closed
		case <-r.close:
			return
		// stop operation when remote leader server leaves the replication cluster
		case <-leave:
			return
		case <-ticker.C:
		}
	}
}

// fetch reads one record at offset from addr. ok is false once addr
// has no record at that offset yet: the peer's 404 (its out-of-range
// status) is read as the replication tail having caught up, not as an
// error.
func (r *Replicator) fetch(addr string, offset uint64) (*apiv1.LogRecord, bool, error) {
	scheme := r.Scheme
	if scheme == "" {
		scheme = "http"
	}
	url := fmt.Sprintf("%s://%s/v1/log/%d", scheme, addr, offset)

	resp, err := r.HTTPClient.Get(url)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("replicate: peer %s returned status %d", addr, resp.StatusCode)
	}

	var body struct {
		Record apiv1.LogRecord `json:"record"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, err
	}
	return &body.Record, true, nil
}

// Leave removes the server from the replication cluster and closes the server's associated channel while signaling the follower receiver in the "replicate" goroutine to stop replicating from that server
func (r *Replicator) Leave(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()

	// stop operation if server does not exist
	if _, ok := r.servers[name]; !ok {
		return nil
	}

	// close current server channel and remove its entry
	close(r.servers[name])
	delete(r.servers, name)
	return nil
}

// init sets up logger, http client and replicator channels
func (r *Replicator) init() {
	if r.logger == nil {
		r.logger = zap.L().Named("replicator")
	}
	if r.HTTPClient == nil {
		r.HTTPClient = http.DefaultClient
	}
	if r.servers == nil {
		r.servers = make(map[string]chan struct{})
	}
	if r.close == nil {
		r.close = make(chan struct{})
	}
}

// Close closes the replicator and stops replicating to new and existing servers
func (r *Replicator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()

	if r.closed {
		return nil
	}
	r.closed = true
	close(r.close)
	return nil
}

func (r *Replicator) logError(err error, msg, addr string) {
	r.logger.Error(
		msg,
		zap.String("addr", addr),
		zap.Error(err),
	)
}
