package log

import "github.com/hashicorp/raft"

// log configuration
type Config struct {
	// maximum bytes for the store and index
	Segment struct {
		MaxStoreBytes uint64
		MaxIndexBytes uint64
		InitialOffset uint64
	}
	Raft struct {
		raft.Config
		StreamLayer *StreamLayer
		Bootstrap   bool
	}
}
