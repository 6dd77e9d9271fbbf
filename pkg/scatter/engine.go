package scatter

import (
	"context"
	"sync"
	"time"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/log"
	"github.com/cloudomate/objectio/pkg/metrics"
)

const (
	// overfetchMargin amortizes duplicate keys across shard boundaries and
	// empty-prefix tails, per the listing engine's documented over-fetch.
	overfetchMargin = 100

	defaultConcurrency   = 32
	defaultShardDeadline = 10 * time.Second
)

// ShardPage is one shard's answer to a single ListObjectsMeta call.
type ShardPage struct {
	Entries      []ListEntry
	IsTruncated  bool
	MoreBuffered bool
}

// ShardSource issues a single-shard metadata scan. In production this is a
// pooled gRPC call into a storage daemon's StorageService.ListObjectsMeta;
// tests substitute an in-memory fake.
type ShardSource interface {
	ListObjectsMeta(ctx context.Context, shardId, bucket, prefix, startAfter string, maxKeys int) (ShardPage, error)
}

// Page is one page of a scatter-gather listing.
type Page struct {
	Entries               []ListEntry
	IsTruncated           bool
	NextContinuationToken string
}

// Engine runs scatter-gather listings across a bucket's shards.
type Engine struct {
	signer      *TokenSigner
	source      ShardSource
	concurrency int
	deadline    time.Duration
}

type EngineConfig struct {
	Signer      *TokenSigner
	Source      ShardSource
	Concurrency int
	Deadline    time.Duration
}

func NewEngine(cfg EngineConfig) *Engine {
	concurrency := cfg.Concurrency
	if concurrency <= 0 || concurrency > defaultConcurrency {
		concurrency = defaultConcurrency
	}
	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = defaultShardDeadline
	}
	return &Engine{signer: cfg.Signer, source: cfg.Source, concurrency: concurrency, deadline: deadline}
}

// List fans ListObjectsMeta out across shardIds, merges the results, and
// returns a page plus a continuation token when more data remains.
// continuationToken, when non-empty, takes precedence over startAfter, the
// same convention pkg/storage's single-shard ListObjectsMeta uses.
func (e *Engine) List(ctx context.Context, shardIds []string, bucket, prefix, startAfter, continuationToken string, maxKeys int, topologyVersion uint64) (Page, error) {
	metrics.ScatterRequestsTotal.Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ScatterMergeDuration)

	if len(shardIds) == 0 {
		return Page{}, common.Unavailablef("no listing nodes available for bucket %q", bucket)
	}

	cursors := make(map[string]ShardCursor, len(shardIds))
	if continuationToken != "" {
		tok, err := e.signer.Decode(continuationToken, bucket, prefix, topologyVersion)
		if err != nil {
			metrics.ScatterTokensRejectedTotal.Inc()
			return Page{}, err
		}
		cursors = tok.ShardCursors
	} else {
		for _, id := range shardIds {
			cursors[id] = ShardCursor{LastKey: startAfter}
		}
	}

	buffers, shardTruncated, err := e.fetchShards(ctx, shardIds, cursors, bucket, prefix, maxKeys)
	if err != nil {
		return Page{}, err
	}

	merged, lastKey, drained, heapRemaining := kWayMerge(buffers, maxKeys)

	nextCursors := make(map[string]ShardCursor, len(shardIds))
	isTruncated := heapRemaining
	for _, id := range shardIds {
		prior := cursors[id]
		if prior.Exhausted {
			// Already exhausted shards aren't refetched; carry their
			// cursor forward unchanged.
			nextCursors[id] = prior
			continue
		}

		last := prior.LastKey
		if k, ok := lastKey[id]; ok {
			last = k
		}
		exhausted := drained[id] && !shardTruncated[id]
		if !exhausted {
			isTruncated = true
		}
		nextCursors[id] = ShardCursor{LastKey: last, Exhausted: exhausted}
	}

	page := Page{Entries: merged, IsTruncated: isTruncated}
	if isTruncated {
		tok := ListContinuationToken{
			Bucket:          bucket,
			Prefix:          prefix,
			ShardCursors:    nextCursors,
			TopologyVersion: topologyVersion,
		}
		encoded, err := e.signer.Encode(tok)
		if err != nil {
			return Page{}, err
		}
		page.NextContinuationToken = encoded
	}

	return page, nil
}

// fetchShards issues one ListObjectsMeta call per non-exhausted shard
// concurrently, bounded by e.concurrency, each under its own deadline.
// A shard error is recorded and that shard contributes an empty page
// rather than failing the whole call, unless every shard fails.
func (e *Engine) fetchShards(ctx context.Context, shardIds []string, cursors map[string]ShardCursor, bucket, prefix string, maxKeys int) (map[string][]ListEntry, map[string]bool, error) {
	type shardResult struct {
		id   string
		page ShardPage
		err  error
	}

	sem := make(chan struct{}, e.concurrency)
	results := make(chan shardResult, len(shardIds))
	var wg sync.WaitGroup

	activeShards := 0
	for _, id := range shardIds {
		if c, ok := cursors[id]; ok && c.Exhausted {
			continue
		}
		activeShards++
		wg.Add(1)
		go func(shardId string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			shardCtx, cancel := context.WithTimeout(ctx, e.deadline)
			defer cancel()

			startAfter := cursors[shardId].LastKey
			page, err := e.source.ListObjectsMeta(shardCtx, shardId, bucket, prefix, startAfter, maxKeys+overfetchMargin)
			results <- shardResult{id: shardId, page: page, err: err}
		}(id)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	buffers := make(map[string][]ListEntry)
	truncated := make(map[string]bool)
	failures := 0

	for r := range results {
		if r.err != nil {
			failures++
			metrics.ScatterShardErrorsTotal.WithLabelValues(common.KindOf(r.err).String()).Inc()
			log.WithComponent("scatter").Warn().
				Err(r.err).
				Str("shard_id", r.id).
				Str("bucket", bucket).
				Msg("shard listing failed, continuing with remaining shards")
			continue
		}
		buffers[r.id] = r.page.Entries
		truncated[r.id] = r.page.IsTruncated || r.page.MoreBuffered
	}

	if activeShards > 0 && failures == activeShards {
		return nil, nil, common.Unavailablef("all %d scatter-gather shards failed for bucket %q", activeShards, bucket)
	}

	return buffers, truncated, nil
}
