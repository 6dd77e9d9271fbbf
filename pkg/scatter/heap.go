package scatter

import "container/heap"

// ListEntry is one key/value pair as returned by a shard's listing page.
type ListEntry struct {
	Key   string
	Value []byte
}

// heapItem tracks one shard's current head entry plus its position in that
// shard's buffered page, so the merge can advance the shard's pointer once
// its head is popped.
type heapItem struct {
	shardId string
	entry   ListEntry
	index   int // position within shardBuffers[shardId]
}

type mergeHeap []*heapItem

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].entry.Key < h[j].entry.Key }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*heapItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// kWayMerge merges each shard's sorted page of entries into a single
// globally-sorted sequence, collapsing duplicate keys across shards (the
// first occurrence encountered wins; callers that need last-writer
// semantics resolve it themselves upstream of listing). It returns the
// merged entries capped at limit, plus the last key consumed from each
// shard and whether that shard's buffer was fully drained.
func kWayMerge(buffers map[string][]ListEntry, limit int) (merged []ListEntry, lastKey map[string]string, drained map[string]bool, heapRemaining bool) {
	h := &mergeHeap{}
	heap.Init(h)
	lastKey = make(map[string]string)
	drained = make(map[string]bool)

	for shardId, entries := range buffers {
		if len(entries) > 0 {
			heap.Push(h, &heapItem{shardId: shardId, entry: entries[0], index: 0})
		} else {
			drained[shardId] = true
		}
	}

	var lastEmitted string
	haveLast := false

	for h.Len() > 0 && (limit <= 0 || len(merged) < limit) {
		item := heap.Pop(h).(*heapItem)
		lastKey[item.shardId] = item.entry.Key

		if !haveLast || item.entry.Key != lastEmitted {
			merged = append(merged, item.entry)
			lastEmitted = item.entry.Key
			haveLast = true
		}

		buf := buffers[item.shardId]
		next := item.index + 1
		if next < len(buf) {
			heap.Push(h, &heapItem{shardId: item.shardId, entry: buf[next], index: next})
		} else {
			drained[item.shardId] = true
		}
	}

	// Any shard never touched above (empty input buffer) is drained by
	// definition; shards still holding unpopped heap items are not.
	for shardId := range buffers {
		if _, ok := drained[shardId]; !ok {
			drained[shardId] = false
		}
	}

	return merged, lastKey, drained, h.Len() > 0
}
