package segment

import (
	"io"
	"os"
	"sort"

	"github.com/tysonmote/gommap"
)

const (
	offsetWidth uint64 = 4
	posWidth    uint64 = 8
	entryWidth         = offsetWidth + posWidth
)

// offsetIndex is a memory-mapped, sorted offset-id -> store-position
// table. Unlike internal/log/index.go (entries keyed by append-order
// relative position), entries here are keyed by the offset id itself,
// written by the segment builder in strictly increasing offset-id
// order. That ordering is what lets rank/select/lookup resolve with a
// binary search instead of a scan, as the compacted segment requires.
type offsetIndex struct {
	file *os.File
	mmap gommap.MMap
	size uint64
}

func newOffsetIndex(f *os.File, maxBytes uint64) (*offsetIndex, error) {
	idx := &offsetIndex{file: f}
	fi, err := os.Stat(f.Name())
	if err != nil {
		return nil, err
	}
	idx.size = uint64(fi.Size())

	if err := os.Truncate(f.Name(), int64(maxBytes)); err != nil {
		return nil, err
	}
	mmap, err := gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	idx.mmap = mmap
	return idx, nil
}

func (i *offsetIndex) entryCount() int {
	return int(i.size / entryWidth)
}

func (i *offsetIndex) entryAt(n int) (offsetID uint32, pos uint64) {
	base := uint64(n) * entryWidth
	offsetID = enc.Uint32(i.mmap[base : base+offsetWidth])
	pos = enc.Uint64(i.mmap[base+offsetWidth : base+entryWidth])
	return
}

// rank returns the number of indexed offset ids strictly less than o.
func (i *offsetIndex) rank(o uint32) int {
	n := i.entryCount()
	return sort.Search(n, func(k int) bool {
		off, _ := i.entryAt(k)
		return off >= o
	})
}

// selectAt returns the offset id stored at sorted position n.
func (i *offsetIndex) selectAt(n int) (uint32, error) {
	if n < 0 || n >= i.entryCount() {
		return 0, io.EOF
	}
	off, _ := i.entryAt(n)
	return off, nil
}

// lookup returns the store position for offset id o, if present.
func (i *offsetIndex) lookup(o uint32) (pos uint64, ok bool) {
	n := i.entryCount()
	k := sort.Search(n, func(k int) bool {
		off, _ := i.entryAt(k)
		return off >= o
	})
	if k >= n {
		return 0, false
	}
	off, pos := i.entryAt(k)
	return pos, off == o
}

// write appends an (offset id, position) entry. Callers must write in
// strictly increasing offset-id order.
func (i *offsetIndex) write(off uint32, pos uint64) error {
	if uint64(len(i.mmap)) < i.size+entryWidth {
		return io.EOF
	}
	enc.PutUint32(i.mmap[i.size:i.size+offsetWidth], off)
	enc.PutUint64(i.mmap[i.size+offsetWidth:i.size+entryWidth], pos)
	i.size += entryWidth
	return nil
}

func (i *offsetIndex) close() error {
	if err := i.mmap.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	if err := i.file.Sync(); err != nil {
		return err
	}
	if err := i.mmap.UnsafeUnmap(); err != nil {
		return err
	}
	if err := i.file.Truncate(int64(i.size)); err != nil {
		return err
	}
	return i.file.Close()
}
