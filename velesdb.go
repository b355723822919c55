package velesdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/velesdb/velesdb/internal/logging"
	"github.com/velesdb/velesdb/pkg/bm25"
	"github.com/velesdb/velesdb/pkg/collection"
	"github.com/velesdb/velesdb/pkg/database"
	"github.com/velesdb/velesdb/pkg/fusion"
	"github.com/velesdb/velesdb/pkg/graph"
	"github.com/velesdb/velesdb/pkg/hnsw"
)

// Re-exported vocabulary so callers of the façade never need to
// import the internal packages directly.
type (
	Metric         = collection.Metric
	Options        = collection.Options
	Point          = collection.Point
	Result         = collection.Result
	SearchOptions  = collection.SearchOptions
	Filter         = collection.Filter
	FusionStrategy = fusion.Strategy
	Node           = graph.Node
	Edge           = graph.Edge
	Direction      = graph.Direction
)

const (
	Cosine    = collection.Cosine
	Euclidean = collection.Euclidean
	Dot       = collection.Dot
)

const (
	Outgoing = graph.Outgoing
	Incoming = graph.Incoming
	Both     = graph.Both
)

// Database is the top-level façade over a directory of collections,
// the one entry point host bindings, a server, or the CLI open.
type Database struct {
	inner *database.Database
}

// Open opens (creating if absent) a database rooted at path.
func Open(path string) (*Database, error) {
	db, err := database.Open(path, logging.Nop())
	if err != nil {
		return nil, Wrap("Database.Open", KindIo, err)
	}
	return &Database{inner: db}, nil
}

// CreateCollection creates a new collection of the given dimension
// and similarity metric, using default engine options otherwise.
func (db *Database) CreateCollection(name string, dim int, metric Metric) (*Collection, error) {
	opts := collection.DefaultOptions(dim)
	opts.Metric = metric
	inner, err := db.inner.Create(name, opts)
	if err != nil {
		return nil, Wrap("Database.CreateCollection", KindAlreadyExists, err)
	}
	return &Collection{inner: inner}, nil
}

// GetCollection opens an existing collection by name.
func (db *Database) GetCollection(name string) (*Collection, error) {
	inner, err := db.inner.Open(name, collection.Options{})
	if err != nil {
		return nil, Wrap("Database.GetCollection", KindNotFound, err)
	}
	return &Collection{inner: inner}, nil
}

// DeleteCollection closes and permanently removes a collection.
func (db *Database) DeleteCollection(name string) error {
	if err := db.inner.Drop(name); err != nil {
		return Wrap("Database.DeleteCollection", KindNotFound, err)
	}
	return nil
}

// ListCollections returns the names of every collection under the
// database root.
func (db *Database) ListCollections() ([]string, error) {
	names, err := db.inner.List()
	if err != nil {
		return nil, Wrap("Database.ListCollections", KindIo, err)
	}
	return names, nil
}

// Flush closes (flushing) every open collection. The registry itself
// carries no separate on-disk state beyond its collections' own.
func (db *Database) Flush() error {
	if err := db.inner.CloseAll(); err != nil {
		return Wrap("Database.Flush", KindIo, err)
	}
	return nil
}

// Embedder turns text into a vector; Collection.SemanticStore and
// SemanticQuery are thin convenience wrappers over upsert/search that
// assume one has been supplied.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Collection is the façade over one collection's CRUD, search, graph,
// and query surfaces.
type Collection struct {
	inner    *collection.Collection
	embedder Embedder
}

// WithEmbedder attaches an embedding collaborator used by
// SemanticStore/SemanticQuery, returning the same Collection for
// chaining.
func (c *Collection) WithEmbedder(e Embedder) *Collection {
	c.embedder = e
	return c
}

// Upsert inserts or replaces points.
func (c *Collection) Upsert(points ...Point) error {
	for _, p := range points {
		if err := c.inner.Upsert(p); err != nil {
			return Wrap("Collection.Upsert", KindInternal, err)
		}
	}
	return nil
}

// UpsertAsync upserts one point on the collection's shared worker
// pool rather than the caller's own goroutine, so a caller that wants
// to fire off many upserts concurrently can bound them by the same
// pool BatchSearch uses, and have ctx cancel a still-queued call
// before it runs.
func (c *Collection) UpsertAsync(ctx context.Context, p Point) error {
	if err := c.inner.UpsertAsync(ctx, p); err != nil {
		return Wrap("Collection.UpsertAsync", KindInternal, err)
	}
	return nil
}

// GetPointAsync retrieves one point's payload on the shared worker
// pool; see UpsertAsync.
func (c *Collection) GetPointAsync(ctx context.Context, id int64) (Result, error) {
	payload, err := c.inner.GetAsync(ctx, id)
	if err != nil {
		return Result{}, Wrap("Collection.GetPointAsync", KindNotFound, err)
	}
	return Result{ID: id, Payload: payload}, nil
}

// DeletePointAsync deletes one point on the shared worker pool; see
// UpsertAsync.
func (c *Collection) DeletePointAsync(ctx context.Context, id int64) error {
	if err := c.inner.DeleteAsync(ctx, id); err != nil {
		return Wrap("Collection.DeletePointAsync", KindNotFound, err)
	}
	return nil
}

// SearchAsync runs a single ANN query on the shared worker pool; see
// UpsertAsync. BatchSearch remains the right call for fanning out many
// queries at once.
func (c *Collection) SearchAsync(ctx context.Context, query []float32, opts SearchOptions) ([]Result, error) {
	results, err := c.inner.SearchAsync(ctx, query, opts)
	if err != nil {
		return nil, Wrap("Collection.SearchAsync", KindInternal, err)
	}
	return results, nil
}

// GetPoints retrieves payloads for the given ids, in order, omitting
// any id that is not found.
func (c *Collection) GetPoints(ids []int64) ([]Result, error) {
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		payload, err := c.inner.Get(id)
		if err != nil {
			continue
		}
		out = append(out, Result{ID: id, Payload: payload})
	}
	return out, nil
}

// DeletePoints removes points by id; the first failure's index and
// error are reported, and points before it are durable after the next
// Flush, matching the store's all-or-nothing-per-point write policy.
func (c *Collection) DeletePoints(ids []int64) error {
	for i, id := range ids {
		if err := c.inner.Delete(id); err != nil {
			return Wrap(fmt.Sprintf("Collection.DeletePoints[%d]", i), KindNotFound, err)
		}
	}
	return nil
}

// Search runs an ANN query.
func (c *Collection) Search(query []float32, opts SearchOptions) ([]Result, error) {
	results, err := c.inner.Search(query, opts)
	if err != nil {
		return nil, Wrap("Collection.Search", KindInternal, err)
	}
	return results, nil
}

// TextSearch runs a BM25 full-text query.
func (c *Collection) TextSearch(query string, k int) ([]bm25.Hit, error) {
	return c.inner.SearchText(query, k)
}

// HybridSearch fuses a vector and a text query with the given fusion
// strategy.
func (c *Collection) HybridSearch(vectorQuery []float32, textQuery string, k int, strategy FusionStrategy) ([]fusion.Result, error) {
	results, err := c.inner.HybridSearch(vectorQuery, textQuery, k, strategy)
	if err != nil {
		return nil, Wrap("Collection.HybridSearch", KindInternal, err)
	}
	return results, nil
}

// BatchSearch runs one ANN query per entry in queries over the
// collection's shared worker pool, preserving input order in the
// returned slice.
func (c *Collection) BatchSearch(ctx context.Context, queries [][]float32, opts SearchOptions) ([][]Result, error) {
	out, err := c.inner.BatchSearch(ctx, queries, opts)
	if err != nil {
		return nil, Wrap("Collection.BatchSearch", KindInternal, err)
	}
	return out, nil
}

// MultiQuerySearch runs each query in queries, then fuses the ranked
// lists with strategy.
func (c *Collection) MultiQuerySearch(queries [][]float32, k int, strategy FusionStrategy) ([]fusion.Result, error) {
	lists := make([][]fusion.Item, 0, len(queries))
	for _, q := range queries {
		results, err := c.inner.Search(q, SearchOptions{K: k})
		if err != nil {
			return nil, Wrap("Collection.MultiQuerySearch", KindInternal, err)
		}
		items := make([]fusion.Item, len(results))
		for i, r := range results {
			items[i] = fusion.Item{ID: r.ID, Score: float64(r.Score)}
		}
		lists = append(lists, items)
	}
	return fusion.Fuse(strategy, lists, nil, fusion.DefaultRRFK), nil
}

// Query parses, plans, and executes a VelesQL statement against this
// collection.
func (c *Collection) Query(velesql string, params map[string]any) ([]Result, error) {
	results, err := c.inner.Query(velesql, params)
	if err != nil {
		return nil, Wrap("Collection.Query", KindValidation, err)
	}
	return results, nil
}

// IsEmpty reports whether the collection holds any live points.
func (c *Collection) IsEmpty() bool {
	return c.inner.Len() == 0
}

// Flush persists the vector store, the payload log and the graph log to
// disk. The BM25 text index is not written; the HNSW index is not
// written either and is rebuilt from the vector store when the
// collection is opened.
func (c *Collection) Flush() error {
	if err := c.inner.Flush(); err != nil {
		return Wrap("Collection.Flush", KindIo, err)
	}
	return nil
}

// Vacuum rebuilds the HNSW index from its currently-live points when
// its deletion ratio reaches threshold (threshold<=0 uses the
// default). Deletes trigger this automatically in the background;
// this method lets a caller force it on demand, with ctx bounding how
// long the rebuild may run before it is reported as Cancelled.
func (c *Collection) Vacuum(ctx context.Context, threshold float64) (bool, error) {
	rebuilt, err := c.inner.Vacuum(ctx, threshold)
	if err != nil {
		if errors.Is(err, hnsw.ErrCancelled) {
			return false, Wrap("Collection.Vacuum", KindCancelled, err)
		}
		return false, Wrap("Collection.Vacuum", KindInternal, err)
	}
	return rebuilt, nil
}

// AddEdge adds a typed, weighted edge between two existing nodes.
func (c *Collection) AddEdge(e *Edge) error {
	if err := c.inner.Graph().AddEdge(e); err != nil {
		return Wrap("Collection.AddEdge", KindInternal, err)
	}
	return nil
}

// GetEdges lists edges incident to node in the given direction,
// optionally filtered by edge type, up to limit (0 = unlimited).
func (c *Collection) GetEdges(node int64, dir Direction, typeFilter string, limit int) []*Edge {
	return c.inner.Graph().GetEdges(node, dir, typeFilter, limit)
}

// Traverse walks the relationship graph from start per opts.
func (c *Collection) Traverse(start int64, opts graph.TraversalOptions) (*graph.TraversalResult, error) {
	res, err := c.inner.Graph().Traverse(start, opts)
	if err != nil {
		return nil, Wrap("Collection.Traverse", KindNotFound, err)
	}
	return res, nil
}

// GetNodeDegree reports how many edges are incident to node in the
// given direction.
func (c *Collection) GetNodeDegree(node int64, dir Direction) int {
	return c.inner.Graph().Degree(node, dir)
}

// SemanticStore embeds text via the attached Embedder and upserts it
// with meta as payload, returning the newly assigned point id (derived
// from a fresh random UUID so callers never have to manage an id
// sequence for convenience-path inserts).
func (c *Collection) SemanticStore(text string, meta map[string]any) (int64, error) {
	if c.embedder == nil {
		return 0, Wrap("Collection.SemanticStore", KindValidation, fmt.Errorf("no embedder attached; call WithEmbedder first"))
	}
	vec, err := c.embedder.Embed(text)
	if err != nil {
		return 0, Wrap("Collection.SemanticStore", KindInternal, err)
	}
	id := newPointID()
	if err := c.inner.Upsert(Point{ID: id, Vector: vec, Payload: meta, Text: text}); err != nil {
		return 0, Wrap("Collection.SemanticStore", KindInternal, err)
	}
	return id, nil
}

// SemanticQuery embeds text via the attached Embedder and runs an ANN
// search for its k nearest neighbours.
func (c *Collection) SemanticQuery(text string, k int) ([]Result, error) {
	if c.embedder == nil {
		return nil, Wrap("Collection.SemanticQuery", KindValidation, fmt.Errorf("no embedder attached; call WithEmbedder first"))
	}
	vec, err := c.embedder.Embed(text)
	if err != nil {
		return nil, Wrap("Collection.SemanticQuery", KindInternal, err)
	}
	return c.Search(vec, SearchOptions{K: k})
}

// newPointID derives a positive int64 id from a fresh UUID, giving
// semantic-path inserts a collision-resistant id without asking the
// caller to manage a sequence.
func newPointID() int64 {
	id := uuid.New()
	v := int64(binary.BigEndian.Uint64(id[:8]))
	if v < 0 {
		v = -v
	}
	return v
}
