// Package storage implements the storage daemon core: the raw block
// device layout, its bitmap allocator, the write-ahead log, and the
// B-tree-index-plus-ARC-cache metadata store that sits on top of it.
package storage

import (
	"sync"
	"sync/atomic"

	"github.com/cloudomate/objectio/pkg/common"
)

// Extent is a contiguous run of blocks.
type Extent struct {
	Start  uint64
	Length uint64
}

func (e Extent) End() uint64 { return e.Start + e.Length }

func (e Extent) Contains(block uint64) bool {
	return block >= e.Start && block < e.End()
}

func (e Extent) Overlaps(o Extent) bool {
	return e.Start < o.End() && o.Start < e.End()
}

// TryMerge joins two adjacent extents, returning (merged, true) when they
// are contiguous in either order.
func (e Extent) TryMerge(o Extent) (Extent, bool) {
	if e.End() == o.Start {
		return Extent{Start: e.Start, Length: e.Length + o.Length}, true
	}
	if o.End() == e.Start {
		return Extent{Start: o.Start, Length: e.Length + o.Length}, true
	}
	return Extent{}, false
}

// BlockBitmap tracks free/used data blocks with one bit per block (0=free,
// 1=used), a hint-driven search position, and an atomic free-block
// counter so callers can check capacity without taking the lock.
type BlockBitmap struct {
	mu          sync.RWMutex
	data        []byte
	totalBlocks uint64
	freeBlocks  atomic.Uint64
	searchHint  atomic.Uint64
}

// NewBlockBitmap creates an all-free bitmap for totalBlocks blocks.
func NewBlockBitmap(totalBlocks uint64) *BlockBitmap {
	b := &BlockBitmap{
		data:        make([]byte, (totalBlocks+7)/8),
		totalBlocks: totalBlocks,
	}
	b.freeBlocks.Store(totalBlocks)
	return b
}

// LoadBlockBitmap reconstructs a bitmap from its on-disk bytes, recounting
// free blocks from the loaded data rather than trusting a stored counter.
func LoadBlockBitmap(data []byte, totalBlocks uint64) *BlockBitmap {
	buf := make([]byte, (totalBlocks+7)/8)
	copy(buf, data)

	b := &BlockBitmap{data: buf, totalBlocks: totalBlocks}
	var free uint64
	for block := uint64(0); block < totalBlocks; block++ {
		if !isSet(buf, block) {
			free++
		}
	}
	b.freeBlocks.Store(free)
	return b
}

func (b *BlockBitmap) ToBytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func isSet(data []byte, block uint64) bool {
	byteIdx := block / 8
	bitIdx := block % 8
	return data[byteIdx]&(1<<bitIdx) != 0
}

func setBit(data []byte, block uint64) {
	byteIdx := block / 8
	bitIdx := block % 8
	data[byteIdx] |= 1 << bitIdx
}

func clearBit(data []byte, block uint64) {
	byteIdx := block / 8
	bitIdx := block % 8
	data[byteIdx] &^= 1 << bitIdx
}

func (b *BlockBitmap) IsAllocated(block uint64) bool {
	if block >= b.totalBlocks {
		return true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return isSet(b.data, block)
}

// Allocate reserves a single free block, searching from the current hint
// and wrapping around once.
func (b *BlockBitmap) Allocate() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hint := b.searchHint.Load()
	if block, ok := b.findFreeInRange(hint, b.totalBlocks); ok {
		setBit(b.data, block)
		b.freeBlocks.Add(^uint64(0))
		b.searchHint.Store(block + 1)
		return block, true
	}
	if hint > 0 {
		if block, ok := b.findFreeInRange(0, hint); ok {
			setBit(b.data, block)
			b.freeBlocks.Add(^uint64(0))
			b.searchHint.Store(block + 1)
			return block, true
		}
	}
	return 0, false
}

// AllocateExtent reserves count contiguous blocks.
func (b *BlockBitmap) AllocateExtent(count uint64) (Extent, bool) {
	if count == 0 {
		return Extent{}, false
	}
	if count == 1 {
		block, ok := b.Allocate()
		if !ok {
			return Extent{}, false
		}
		return Extent{Start: block, Length: 1}, true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	hint := b.searchHint.Load()
	if extent, ok := b.findFreeExtentInRange(hint, b.totalBlocks, count); ok {
		b.markExtentUsed(extent)
		b.freeBlocks.Add(-count)
		b.searchHint.Store(extent.End())
		return extent, true
	}
	if hint > 0 {
		if extent, ok := b.findFreeExtentInRange(0, hint, count); ok {
			b.markExtentUsed(extent)
			b.freeBlocks.Add(-count)
			b.searchHint.Store(extent.End())
			return extent, true
		}
	}
	return Extent{}, false
}

func (b *BlockBitmap) findFreeInRange(start, end uint64) (uint64, bool) {
	if end > b.totalBlocks {
		end = b.totalBlocks
	}
	for block := start; block < end; block++ {
		if !isSet(b.data, block) {
			return block, true
		}
	}
	return 0, false
}

func (b *BlockBitmap) findFreeExtentInRange(start, end, count uint64) (Extent, bool) {
	if end > b.totalBlocks {
		end = b.totalBlocks
	}
	runStart := start
	var runLen uint64
	for block := start; block < end; block++ {
		if isSet(b.data, block) {
			runStart = block + 1
			runLen = 0
			continue
		}
		runLen++
		if runLen >= count {
			return Extent{Start: runStart, Length: count}, true
		}
	}
	return Extent{}, false
}

func (b *BlockBitmap) markExtentUsed(e Extent) {
	for block := e.Start; block < e.End(); block++ {
		setBit(b.data, block)
	}
}

// Free releases a single block.
func (b *BlockBitmap) Free(block uint64) error {
	if block >= b.totalBlocks {
		return common.InvalidArgumentf("block %d out of range (max %d)", block, b.totalBlocks)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !isSet(b.data, block) {
		return common.FailedPreconditionf("block %d is not allocated", block)
	}
	clearBit(b.data, block)
	b.freeBlocks.Add(1)

	if hint := b.searchHint.Load(); block < hint {
		b.searchHint.Store(block)
	}
	return nil
}

// FreeExtent releases every block in e, or fails without mutating state if
// any block in the range is already free.
func (b *BlockBitmap) FreeExtent(e Extent) error {
	if e.End() > b.totalBlocks {
		return common.InvalidArgumentf("extent end %d out of range (max %d)", e.End(), b.totalBlocks)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for block := e.Start; block < e.End(); block++ {
		if !isSet(b.data, block) {
			return common.FailedPreconditionf("block %d is not allocated", block)
		}
	}
	for block := e.Start; block < e.End(); block++ {
		clearBit(b.data, block)
	}
	b.freeBlocks.Add(e.Length)

	if hint := b.searchHint.Load(); e.Start < hint {
		b.searchHint.Store(e.Start)
	}
	return nil
}

func (b *BlockBitmap) FreeBlocks() uint64  { return b.freeBlocks.Load() }
func (b *BlockBitmap) TotalBlocks() uint64 { return b.totalBlocks }
