// Package collection implements the point/vector engine: a single
// collection composes an HNSW index, an mmap-backed vector store, a
// payload log, a BM25 full-text index, a point-level cache, and a
// relationship graph overlay behind one CRUD/search surface.
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/velesdb/velesdb/internal/logging"
	"github.com/velesdb/velesdb/internal/workerpool"
	"github.com/velesdb/velesdb/pkg/bitmap"
	"github.com/velesdb/velesdb/pkg/bm25"
	"github.com/velesdb/velesdb/pkg/cache"
	"github.com/velesdb/velesdb/pkg/fusion"
	"github.com/velesdb/velesdb/pkg/graph"
	"github.com/velesdb/velesdb/pkg/hnsw"
	"github.com/velesdb/velesdb/pkg/metrics"
	"github.com/velesdb/velesdb/pkg/mmapstore"
	"github.com/velesdb/velesdb/pkg/payloadlog"
	"github.com/velesdb/velesdb/pkg/quantization"
	"github.com/velesdb/velesdb/pkg/simd"
)

// vacuumDeletionRatio is the default tombstone-ratio threshold Delete
// uses to decide whether to trigger an automatic background index
// rebuild; matches hnsw.Vacuum's own default threshold.
const vacuumDeletionRatio = 0.2

// vacuumTimeout bounds how long a background auto-vacuum runs before
// cooperatively cancelling itself.
const vacuumTimeout = 30 * time.Second

// Metric names a similarity function for NEAR queries and HNSW
// construction.
type Metric string

const (
	Cosine    Metric = "cosine"
	Euclidean Metric = "euclidean"
	Dot       Metric = "dot"
)

// Options configures a collection at open time.
type Options struct {
	Dim              int
	Metric           Metric
	AdaptPolicy      AdaptPolicy
	ConcurrencyTarget int // >GOMAXPROCS picks the sampled-eviction cache
	CacheCapacity    int
	QuantizationMode quantization.Mode
	Logger           logging.Logger
}

// DefaultOptions returns sane defaults for a collection of the given
// dimension using cosine similarity.
func DefaultOptions(dim int) Options {
	return Options{
		Dim:              dim,
		Metric:           Cosine,
		AdaptPolicy:      StrictMode,
		ConcurrencyTarget: 0,
		CacheCapacity:    4096,
		QuantizationMode: quantization.ModeNone,
	}
}

// Point is one upserted record: a vector, a JSON-able payload, and an
// optional text field indexed into BM25.
type Point struct {
	ID      int64
	Vector  []float32
	Payload map[string]any
	Text    string
}

// Result is one ranked point from Search/SearchText/HybridSearch.
type Result struct {
	ID      int64
	Score   float32
	Payload map[string]any
}

// Collection is one logical table of points: vectors in an HNSW graph
// backed by an mmap store, payloads in an append-only log, optional
// full text in a BM25 index, and an optional relationship graph.
type Collection struct {
	mu sync.RWMutex

	dir    string
	opts   Options
	log    logging.Logger
	dist   simd.DistanceFunc

	vectors  *mmapstore.Store
	index    *hnsw.Graph
	payload  *payloadlog.Log
	text     *bm25.Index
	cache    cache.Cache
	exists   *bitmap.Set
	graph    *graph.Store
	graphLog *graph.Log
	adapter  *DimensionAdapter
	pool     *workerpool.Pool
	metrics  *metrics.Recorder

	dirty bool
}

// Open creates or reopens a collection rooted at dir.
func Open(dir string, opts Options) (*Collection, error) {
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("collection: dimension must be positive")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	table := simd.Active()
	var dist simd.DistanceFunc
	switch opts.Metric {
	case Euclidean:
		dist = table.L2
	case Dot:
		dist = table.Dot
	default:
		dist = table.Cosine
	}

	vectors, err := mmapstore.Open(filepath.Join(dir, "vectors.dat"), opts.Dim)
	if err != nil {
		return nil, fmt.Errorf("collection: open vector store: %w", err)
	}

	lower := opts.Metric == Euclidean
	cfg := hnsw.DefaultConfig(opts.Dim, hnsw.DistanceFunc(dist), lower)
	cfg.Mode = opts.QuantizationMode
	idx := hnsw.New(cfg, vectors)

	plog, err := payloadlog.Open(filepath.Join(dir, "payload.log"))
	if err != nil {
		vectors.Close()
		return nil, fmt.Errorf("collection: open payload log: %w", err)
	}

	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = 4096
	}
	var pointCache cache.Cache
	if opts.ConcurrencyTarget > runtime.GOMAXPROCS(0) {
		pointCache = cache.NewSampledLRU(capacity)
	} else {
		lc, err := cache.NewLockingLRU(capacity)
		if err != nil {
			vectors.Close()
			plog.Close()
			return nil, fmt.Errorf("collection: create cache: %w", err)
		}
		pointCache = lc
	}

	graphDir := filepath.Join(dir, "graph")
	if err := os.MkdirAll(graphDir, 0o755); err != nil {
		vectors.Close()
		plog.Close()
		return nil, fmt.Errorf("collection: create graph dir: %w", err)
	}
	glog, err := graph.OpenLog(filepath.Join(graphDir, "nodes_edges.log"))
	if err != nil {
		vectors.Close()
		plog.Close()
		return nil, fmt.Errorf("collection: open graph log: %w", err)
	}
	gstore := graph.New()
	if err := glog.Replay(gstore); err != nil {
		vectors.Close()
		plog.Close()
		glog.Close()
		return nil, fmt.Errorf("collection: replay graph log: %w", err)
	}
	gstore.AttachLog(glog)

	c := &Collection{
		dir:      dir,
		opts:     opts,
		log:      log,
		dist:     dist,
		vectors:  vectors,
		index:    idx,
		payload:  plog,
		text:     bm25.New(bm25.DefaultParams),
		cache:    pointCache,
		exists:   bitmap.New(),
		graph:    gstore,
		graphLog: glog,
		adapter:  NewDimensionAdapter(opts.AdaptPolicy, log),
		pool:     workerpool.New(opts.ConcurrencyTarget),
		metrics:  metrics.NewRecorder("velesdb", "collection"),
	}
	for _, id := range plog.IDs() {
		c.exists.Add(id)
		vec, err := vectors.Vector(id)
		if err != nil {
			continue
		}
		if err := idx.Insert(id, vec); err != nil {
			c.Close()
			return nil, fmt.Errorf("collection: rebuild index: %w", err)
		}
	}
	return c, nil
}

// Upsert inserts or replaces a point. Re-upserting re-indexes the
// vector, replaces the payload, and re-indexes the text field if
// present.
func (c *Collection) Upsert(p Point) (err error) {
	done := c.metrics.Track("upsert")
	defer func() { done(err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	vec, err := c.adapter.Adapt(p.ID, p.Vector, c.opts.Dim)
	if err != nil {
		if _, ok := err.(*ErrDimensionMismatch); !ok {
			return err
		}
		if c.opts.AdaptPolicy == StrictMode {
			return err
		}
		// WarnOnly: logged already by the adapter, proceed with the vector as returned.
	}

	if c.exists.Contains(p.ID) {
		if err := c.index.Delete(p.ID); err != nil && err != hnsw.ErrNotFound {
			return fmt.Errorf("collection: delete stale index entry: %w", err)
		}
	}
	if err := c.vectors.Store(p.ID, vec); err != nil {
		return fmt.Errorf("collection: store vector: %w", err)
	}
	if err := c.index.Insert(p.ID, vec); err != nil {
		if err == hnsw.ErrConcurrentRebuild {
			// Vacuum retries in the background; a concurrent rebuild is
			// expected to be brief, so retry once before surfacing it.
			err = c.index.Insert(p.ID, vec)
		}
		if err != nil {
			return fmt.Errorf("collection: index vector: %w", err)
		}
	}

	payloadBytes, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("collection: marshal payload: %w", err)
	}
	if err := c.payload.Append(p.ID, payloadBytes); err != nil {
		return fmt.Errorf("collection: append payload: %w", err)
	}
	c.cache.Remove(p.ID)

	if p.Text != "" {
		c.text.Index(p.ID, p.Text)
	}

	c.exists.Add(p.ID)
	c.dirty = true
	return nil
}

// Get retrieves one point's payload by id, using the point cache when
// warm.
func (c *Collection) Get(id int64) (_ map[string]any, err error) {
	done := c.metrics.Track("get")
	defer func() { done(err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(id)
}

func (c *Collection) getLocked(id int64) (map[string]any, error) {
	if raw, ok := c.cache.Get(id); ok {
		return decodePayload(raw)
	}
	raw, err := c.payload.Get(id)
	if err != nil {
		return nil, err
	}
	c.cache.Put(id, raw)
	return decodePayload(raw)
}

func decodePayload(raw []byte) (map[string]any, error) {
	var payload map[string]any
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("collection: decode payload: %w", err)
	}
	return payload, nil
}

// Delete removes a point from every subsystem: the HNSW graph
// (tombstoned until Vacuum), the vector store, the payload log, the
// cache, the text index, and the existence bitmap. Once the index's
// deletion ratio crosses vacuumDeletionRatio, it also dispatches a
// background Vacuum to reclaim the tombstoned space.
func (c *Collection) Delete(id int64) (err error) {
	done := c.metrics.Track("delete")
	defer func() { done(err) }()

	c.mu.Lock()
	err = c.deleteLocked(id)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.maybeTriggerVacuum()
	return nil
}

func (c *Collection) deleteLocked(id int64) error {
	if !c.exists.Contains(id) {
		return fmt.Errorf("collection: point %d not found", id)
	}
	if err := c.index.Delete(id); err != nil && err != hnsw.ErrNotFound {
		return fmt.Errorf("collection: delete from index: %w", err)
	}
	if err := c.vectors.Delete(id); err != nil {
		return fmt.Errorf("collection: delete vector: %w", err)
	}
	if err := c.payload.Delete(id); err != nil {
		return fmt.Errorf("collection: delete payload: %w", err)
	}
	c.cache.Remove(id)
	c.text.Delete(id)
	c.exists.Remove(id)
	c.dirty = true
	return nil
}

// Vacuum rebuilds the HNSW index from its currently-live points when
// its deletion ratio reaches threshold (threshold<=0 uses the index's
// own default). The old index keeps serving reads for the duration of
// the rebuild; only the pointer swap itself is done under the
// collection's write lock. ctx bounds how long the rebuild may run;
// on expiry it returns hnsw.ErrCancelled-wrapped and leaves the
// existing index untouched.
func (c *Collection) Vacuum(ctx context.Context, threshold float64) (rebuilt bool, err error) {
	done := c.metrics.Track("vacuum")
	defer func() { done(err) }()

	c.mu.RLock()
	idx := c.index
	c.mu.RUnlock()

	fresh, rebuilt, err := idx.Vacuum(ctx, threshold)
	if err != nil {
		return false, fmt.Errorf("collection: vacuum: %w", err)
	}
	if !rebuilt {
		return false, nil
	}

	c.mu.Lock()
	c.index = fresh
	c.dirty = true
	c.mu.Unlock()
	return true, nil
}

// maybeTriggerVacuum dispatches a background Vacuum once the index's
// deletion ratio crosses vacuumDeletionRatio. workerpool.Pool.Go
// blocks the calling goroutine until a worker slot is free, so the
// dispatch itself runs in its own goroutine to keep Delete
// non-blocking; the pool's semaphore still bounds how many vacuums
// (and searches) run concurrently.
func (c *Collection) maybeTriggerVacuum() {
	c.mu.RLock()
	ratio := c.index.DeletionRatio()
	c.mu.RUnlock()
	if ratio < vacuumDeletionRatio {
		return
	}
	go func() {
		_ = c.pool.Go(context.Background(), func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, vacuumTimeout)
			defer cancel()
			if _, err := c.Vacuum(ctx, vacuumDeletionRatio); err != nil {
				c.log.Warn("auto-vacuum failed", "error", err)
			}
			return nil
		})
	}()
}

// Len reports the number of live points.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exists.Len()
}

// SearchOptions configures a Search call.
type SearchOptions struct {
	K      int
	Ef     int // search-time beam width; defaults to K if unset
	Filter *Filter
	// Oversample multiplies the initial ANN candidate pool when a
	// post-filter is applied, to preserve recall after filtering.
	Oversample int
}

// Search performs an ANN query, optionally applying a metadata
// filter as a post-filter over the raw ANN results, with the
// candidate pool widened by Oversample to preserve recall. The filter
// is never pushed down into a pre-filter bitmap ahead of the ANN walk.
func (c *Collection) Search(query []float32, opts SearchOptions) (_ []Result, err error) {
	done := c.metrics.Track("search")
	defer func() { done(err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if opts.K <= 0 {
		return nil, nil
	}
	ef := opts.Ef
	if ef <= 0 {
		ef = opts.K
	}
	oversample := opts.Oversample
	if oversample <= 0 {
		oversample = 1
	}
	fetchK := opts.K
	if opts.Filter != nil {
		fetchK = opts.K * oversample
	}

	ids, dists, err := c.index.Search(query, fetchK, ef*oversample)
	if err != nil {
		return nil, fmt.Errorf("collection: search: %w", err)
	}

	results := make([]Result, 0, len(ids))
	for i, id := range ids {
		payload, err := c.getLocked(id)
		if err != nil {
			continue
		}
		if opts.Filter != nil && !opts.Filter.Match(payload) {
			continue
		}
		results = append(results, Result{ID: id, Score: dists[i], Payload: payload})
		if len(results) == opts.K {
			break
		}
	}
	return results, nil
}

// UpsertAsync runs Upsert on the shared worker pool instead of the
// caller's own goroutine. Unlike a plain "go c.Upsert(p)", this
// composes with cancellation: if ctx is already done, or is cancelled
// while the call is queued behind other pool work, it returns without
// ever running Upsert.
func (c *Collection) UpsertAsync(ctx context.Context, p Point) error {
	return c.pool.Go(ctx, func(context.Context) error {
		return c.Upsert(p)
	})
}

// GetAsync runs Get on the shared worker pool; see UpsertAsync.
func (c *Collection) GetAsync(ctx context.Context, id int64) (map[string]any, error) {
	var payload map[string]any
	err := c.pool.Go(ctx, func(context.Context) error {
		var err error
		payload, err = c.Get(id)
		return err
	})
	return payload, err
}

// DeleteAsync runs Delete on the shared worker pool; see UpsertAsync.
func (c *Collection) DeleteAsync(ctx context.Context, id int64) error {
	return c.pool.Go(ctx, func(context.Context) error {
		return c.Delete(id)
	})
}

// SearchAsync runs Search on the shared worker pool; see UpsertAsync.
// BatchSearch already takes a ctx for fanning out many queries at
// once; SearchAsync is its single-query counterpart for a caller that
// wants one query to compose with the same cancellation semantics.
func (c *Collection) SearchAsync(ctx context.Context, query []float32, opts SearchOptions) ([]Result, error) {
	var results []Result
	err := c.pool.Go(ctx, func(context.Context) error {
		var err error
		results, err = c.Search(query, opts)
		return err
	})
	return results, err
}

// BatchSearch runs one ANN query per entry in queries, fanned out
// across the collection's shared worker pool, and returns their
// results in the same order as queries regardless of completion
// order.
func (c *Collection) BatchSearch(ctx context.Context, queries [][]float32, opts SearchOptions) ([][]Result, error) {
	out := make([][]Result, len(queries))
	err := workerpool.Map(ctx, c.pool, len(queries), func(ctx context.Context, i int) error {
		results, err := c.Search(queries[i], opts)
		if err != nil {
			return err
		}
		out[i] = results
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collection: batch search: %w", err)
	}
	return out, nil
}

// SearchText performs a BM25 full-text query over indexed Text
// fields.
func (c *Collection) SearchText(query string, k int) ([]bm25.Hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.text.Search(query, k), nil
}

// HybridSearch runs a vector query and a text query and fuses their
// ranked lists with the given strategy.
func (c *Collection) HybridSearch(vectorQuery []float32, textQuery string, k int, strategy fusion.Strategy) ([]fusion.Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vecResults, err := c.searchLocked(vectorQuery, SearchOptions{K: k})
	if err != nil {
		return nil, err
	}
	textHits := c.text.Search(textQuery, k)

	lists := make([][]fusion.Item, 0, 2)
	if len(vecResults) > 0 {
		items := make([]fusion.Item, len(vecResults))
		for i, r := range vecResults {
			items[i] = fusion.Item{ID: r.ID, Score: float64(r.Score)}
		}
		lists = append(lists, items)
	}
	if len(textHits) > 0 {
		items := make([]fusion.Item, len(textHits))
		for i, h := range textHits {
			items[i] = fusion.Item{ID: h.DocID, Score: h.Score}
		}
		lists = append(lists, items)
	}
	return fusion.Fuse(strategy, lists, nil, fusion.DefaultRRFK), nil
}

func (c *Collection) searchLocked(query []float32, opts SearchOptions) ([]Result, error) {
	if opts.K <= 0 {
		return nil, nil
	}
	ef := opts.Ef
	if ef <= 0 {
		ef = opts.K
	}
	ids, dists, err := c.index.Search(query, opts.K, ef)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(ids))
	for i, id := range ids {
		payload, _ := c.getLocked(id)
		results[i] = Result{ID: id, Score: dists[i], Payload: payload}
	}
	return results, nil
}

// Graph returns the collection's relationship graph overlay, created
// when the collection is opened and shared across calls.
func (c *Collection) Graph() *graph.Store {
	return c.graph
}

// Metrics returns a point-in-time snapshot of every operation this
// collection has recorded latency/outcome data for.
func (c *Collection) Metrics() metrics.StorageMetrics {
	return c.metrics.Snapshot()
}

// Flush persists the vector store's mmap, the payload log, and the
// graph operation log to disk. The HNSW graph and the BM25 index live
// in memory only; Flush writes no snapshot of either (Open rebuilds the
// HNSW graph from the vector store; BM25 text is not restored). The graph log is flushed
// unconditionally since graph mutations go through graph.Store
// directly and never set c.dirty.
func (c *Collection) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.graphLog.Flush(); err != nil {
		return fmt.Errorf("collection: flush graph log: %w", err)
	}
	if !c.dirty {
		return nil
	}
	if err := c.vectors.Flush(); err != nil {
		return fmt.Errorf("collection: flush vectors: %w", err)
	}
	if err := c.payload.Flush(); err != nil {
		return fmt.Errorf("collection: flush payload: %w", err)
	}
	c.dirty = false
	return nil
}

// Close flushes and releases every subsystem's file handles.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	if err := c.vectors.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.payload.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.graphLog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
