// Package hnsw implements the native Hierarchical Navigable Small World
// graph index: a multi-layer small-world graph supporting approximate
// nearest-neighbour insert, search, vacuum, and dump/load persistence,
// with optional dual-precision traversal (int8 graph distances, float32
// re-ranking on the oversampled candidate set).
//
// Nodes are addressed by an integer arena index, not by pointer, so the
// neighbour-list cycle (a node's neighbours point back to it) is
// represented the way the design notes require: the arena owns every
// node, and neighbour lists hold ids looked up in the arena, not direct
// references.
package hnsw

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/velesdb/velesdb/pkg/quantization"
)

// Sentinel errors for the failure modes named in the component design.
// The collection layer wraps these into the shared error taxonomy; this
// package has no dependency on the root package.
var (
	ErrDimensionMismatch = errors.New("hnsw: dimension mismatch")
	ErrIndexFull         = errors.New("hnsw: index full")
	ErrCorruptDump       = errors.New("hnsw: corrupt dump")
	ErrConcurrentRebuild = errors.New("hnsw: concurrent rebuild in progress")
	ErrNotFound          = errors.New("hnsw: id not found")
	ErrCancelled         = errors.New("hnsw: operation cancelled")
)

// cancelled reports whether ctx has already expired, without blocking;
// Vacuum/Dump/Load call this between work units (one node at a time)
// so a deadline takes effect promptly on large graphs.
func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

const dumpMagic uint32 = 0x564c4853 // "VLHS"
const dumpVersion uint16 = 1

// teeByteReader adapts a *bufio.Reader into an io.ByteReader while
// mirroring every byte read into a running CRC32, so the varint-heavy
// neighbour-list body of a dump can be checksummed without buffering it
// twice.
type teeByteReader struct {
	br  *bufio.Reader
	crc interface{ Write([]byte) (int, error) }
}

func (t *teeByteReader) ReadByte() (byte, error) {
	b, err := t.br.ReadByte()
	if err == nil {
		t.crc.Write([]byte{b})
	}
	return b, err
}

// defaultMaxNodes is the default Config.MaxNodes. A positive MaxNodes
// bounds arena growth and exceeding it returns ErrIndexFull; zero means
// unbounded.
const defaultMaxNodes = 0

// VectorSource resolves a point id to its full-precision vector. The
// graph never owns float32 vector bytes directly; it holds a reference
// into whatever store provides this, per the "by reference into the
// mmap store" memory design note.
type VectorSource interface {
	Vector(id int64) ([]float32, error)
}

// DistanceFunc computes a float32 distance/similarity between two
// equal-length vectors. Smaller is not assumed to mean "closer" for
// every metric (dot-product similarity is larger-is-better); Graph is
// configured with Lower, which says which direction is better.
type DistanceFunc func(a, b []float32) float32

// node is one arena slot. Neighbour-list mutation is guarded by mu so
// concurrent inserters can touch distinct nodes without a global lock;
// readers take a snapshot copy under RLock, giving them a consistent
// view even while neighbour lists mutate underneath them.
type node struct {
	id        int64
	level     int
	neighbors [][]int64 // per layer, index 0 = layer 0
	deleted   bool
	code      []int8 // cached int8 quantisation, nil unless dual/int8 mode
	mu        sync.RWMutex
}

func (n *node) snapshotNeighbors(layer int) []int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if layer >= len(n.neighbors) {
		return nil
	}
	out := make([]int64, len(n.neighbors[layer]))
	copy(out, n.neighbors[layer])
	return out
}

// Config configures a Graph.
type Config struct {
	M              int
	EfConstruction int
	Dim            int
	Distance       DistanceFunc
	Lower          bool // true if smaller DistanceFunc output means "closer"
	Mode           quantization.Mode
	Oversampling   int
	MaxNodes       int
	Seed           int64
}

// DefaultConfig returns sane defaults matching the spec's HNSW
// parameters (M=16, ef_construction=200).
func DefaultConfig(dim int, distance DistanceFunc, lower bool) Config {
	return Config{
		M:              16,
		EfConstruction: 200,
		Dim:            dim,
		Distance:       distance,
		Lower:          lower,
		Mode:           quantization.ModeNone,
		Oversampling:   quantization.DefaultOversampling,
		MaxNodes:       defaultMaxNodes,
	}
}

// Graph is a single HNSW index over one collection's points.
type Graph struct {
	cfg  Config
	maxM int // layer 0 connection cap, 2*M
	ml   float64

	vectors VectorSource
	quant   *quantization.ScalarQuantizer

	arenaMu    sync.RWMutex // guards arena growth, idToArena, entryPoint
	arena      []*node
	idToArena  map[int64]int
	entryPoint int // arena index, -1 if empty

	rngMu sync.Mutex
	rng   *rand.Rand

	rebuilding bool
	rebuildMu  sync.Mutex
}

// New creates an empty graph. vectors resolves point ids to full
// vectors for re-ranking and for diversity-heuristic distance checks
// against arbitrary candidates.
func New(cfg Config, vectors VectorSource) *Graph {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.Oversampling <= 0 {
		cfg.Oversampling = quantization.DefaultOversampling
	}
	g := &Graph{
		cfg:        cfg,
		maxM:       cfg.M * 2,
		ml:         1.0 / math.Log(float64(cfg.M)),
		vectors:    vectors,
		idToArena:  make(map[int64]int),
		entryPoint: -1,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
	if cfg.Mode == quantization.ModeInt8 || cfg.Mode == quantization.ModeDual {
		g.quant = quantization.NewScalarQuantizer(cfg.Dim)
	}
	return g
}

// TrainQuantizer learns the scalar quantiser's per-dimension ranges
// from a representative sample; required before the first Insert when
// Mode is Int8 or Dual.
func (g *Graph) TrainQuantizer(sample [][]float32) error {
	if g.quant == nil {
		return nil
	}
	return g.quant.Train(sample)
}

func (g *Graph) selectLevel() int {
	g.rngMu.Lock()
	u := g.rng.Float64()
	g.rngMu.Unlock()
	if u <= 0 {
		u = 1e-12
	}
	level := int(math.Floor(-math.Log(u) * g.ml))
	if level > 32 {
		level = 32
	}
	return level
}

// better reports whether candidate distance a is strictly closer than b
// under the configured metric direction.
func (g *Graph) better(a, b float32) bool {
	if g.cfg.Lower {
		return a < b
	}
	return a > b
}

// worseOrEqual is the inverse of better, with equality counting as worse (used
// for beam-width eviction: ties keep the incumbent).
func (g *Graph) worseOrEqual(a, b float32) bool {
	return !g.better(a, b)
}

// traversalDistance computes the distance used for graph traversal: the
// int8 kernel in Int8/Dual mode, float32 otherwise.
func (g *Graph) traversalDistance(query []float32, queryCode []int8, n *node) (float32, error) {
	if g.quant != nil && n.code != nil && queryCode != nil {
		return float32(quantization.DistanceInt8(queryCode, n.code)), nil
	}
	vec, err := g.vectors.Vector(n.id)
	if err != nil {
		return 0, err
	}
	return g.cfg.Distance(query, vec), nil
}

func (g *Graph) nodeAt(arenaIdx int) *node {
	g.arenaMu.RLock()
	defer g.arenaMu.RUnlock()
	if arenaIdx < 0 || arenaIdx >= len(g.arena) {
		return nil
	}
	return g.arena[arenaIdx]
}

func (g *Graph) arenaIndexOf(id int64) (int, bool) {
	g.arenaMu.RLock()
	defer g.arenaMu.RUnlock()
	idx, ok := g.idToArena[id]
	return idx, ok
}

// Insert adds a new point to the graph, sampling its layer, greedily
// descending to the target layer, beam-searching each layer down to 0,
// and pruning neighbour lists with the diversity-aware heuristic.
func (g *Graph) Insert(id int64, vector []float32) error {
	if len(vector) != g.cfg.Dim {
		return ErrDimensionMismatch
	}
	if idx, exists := g.arenaIndexOf(id); exists {
		n := g.nodeAt(idx)
		n.mu.RLock()
		dead := n.deleted
		n.mu.RUnlock()
		if !dead {
			return nil // a live node is left as is; a tombstoned one is re-inserted as a new node
		}
	}

	g.rebuildMu.Lock()
	rebuilding := g.rebuilding
	g.rebuildMu.Unlock()
	if rebuilding {
		return ErrConcurrentRebuild
	}

	var code []int8
	var queryCode []int8
	if g.quant != nil && g.quant.Trained {
		c, err := g.quant.EncodeInt8(vector)
		if err == nil {
			code = c
			queryCode = c
		}
	}

	level := g.selectLevel()
	n := &node{id: id, level: level, neighbors: make([][]int64, level+1), code: code}
	for i := range n.neighbors {
		n.neighbors[i] = make([]int64, 0, g.cfg.M)
	}

	g.arenaMu.Lock()
	if g.cfg.MaxNodes > 0 && len(g.arena) >= g.cfg.MaxNodes {
		g.arenaMu.Unlock()
		return ErrIndexFull
	}
	arenaIdx := len(g.arena)
	g.arena = append(g.arena, n)
	g.idToArena[id] = arenaIdx
	if g.entryPoint == -1 {
		g.entryPoint = arenaIdx
		g.arenaMu.Unlock()
		return nil
	}
	entryIdx := g.entryPoint
	g.arenaMu.Unlock()

	entryNode := g.nodeAt(entryIdx)
	currNearest := []int64{entryNode.id}

	for lc := entryNode.level; lc > level; lc-- {
		currNearest = g.searchLayerClosest(vector, queryCode, currNearest, 1, lc)
	}

	for lc := level; lc >= 0; lc-- {
		m := g.cfg.M
		if lc == 0 {
			m = g.maxM
		}
		candidates := g.searchLayer(vector, queryCode, currNearest, g.cfg.EfConstruction, lc)
		neighbors := g.selectNeighborsHeuristic(vector, candidates, m)

		n.mu.Lock()
		n.neighbors[lc] = neighbors
		n.mu.Unlock()

		for _, nb := range neighbors {
			g.addConnection(nb, id, lc)
			g.pruneIfNeeded(nb, lc)
		}
		if len(neighbors) > 0 {
			currNearest = neighbors
		}
	}

	g.arenaMu.Lock()
	if entryN := g.arena[g.entryPoint]; level > entryN.level {
		g.entryPoint = arenaIdx
	}
	g.arenaMu.Unlock()

	return nil
}

func (g *Graph) addConnection(toID, fromID int64, layer int) {
	idx, ok := g.arenaIndexOf(toID)
	if !ok {
		return
	}
	n := g.arena[idx]
	n.mu.Lock()
	defer n.mu.Unlock()
	if layer >= len(n.neighbors) {
		return
	}
	for _, existing := range n.neighbors[layer] {
		if existing == fromID {
			return
		}
	}
	n.neighbors[layer] = append(n.neighbors[layer], fromID)
}

func (g *Graph) pruneIfNeeded(id int64, layer int) {
	idx, ok := g.arenaIndexOf(id)
	if !ok {
		return
	}
	n := g.arena[idx]
	maxConn := g.cfg.M
	if layer == 0 {
		maxConn = g.maxM
	}

	n.mu.RLock()
	if layer >= len(n.neighbors) || len(n.neighbors[layer]) <= maxConn {
		n.mu.RUnlock()
		return
	}
	current := make([]int64, len(n.neighbors[layer]))
	copy(current, n.neighbors[layer])
	n.mu.RUnlock()

	vec, err := g.vectors.Vector(id)
	if err != nil {
		return
	}
	pruned := g.selectNeighborsHeuristic(vec, current, maxConn)

	n.mu.Lock()
	if layer < len(n.neighbors) {
		n.neighbors[layer] = pruned
	}
	n.mu.Unlock()
}

type candidate struct {
	id   int64
	dist float32
}

// searchLayer performs the beam search described in the component
// design: a candidate min-heap (by distance to query) and a dynamic
// result list bounded to ef, expanding through unvisited neighbours
// until the candidate frontier can no longer improve the result set.
func (g *Graph) searchLayer(query []float32, queryCode []int8, entryPoints []int64, ef int, layer int) []int64 {
	visited := make(map[int64]bool, ef*2)
	var candidates []candidate // kept sorted ascending by "closeness rank" via better()
	var dynamic []candidate    // kept sorted, worst first for eviction

	push := func(list []candidate, c candidate, keepBest bool) []candidate {
		idx := sort.Search(len(list), func(i int) bool {
			if keepBest {
				return g.better(c.dist, list[i].dist) || c.dist == list[i].dist
			}
			return g.worseOrEqual(c.dist, list[i].dist)
		})
		list = append(list, candidate{})
		copy(list[idx+1:], list[idx:])
		list[idx] = c
		return list
	}

	for _, id := range entryPoints {
		idx, ok := g.arenaIndexOf(id)
		if !ok || visited[id] {
			continue
		}
		n := g.arena[idx]
		dist, err := g.traversalDistance(query, queryCode, n)
		if err != nil {
			continue
		}
		visited[id] = true
		candidates = push(candidates, candidate{id: id, dist: dist}, true)
		dynamic = push(dynamic, candidate{id: id, dist: dist}, true)
	}

	for len(candidates) > 0 {
		current := candidates[0]
		candidates = candidates[1:]

		if len(dynamic) > 0 {
			worst := dynamic[len(dynamic)-1]
			if g.worseOrEqual(current.dist, worst.dist) && len(dynamic) >= ef {
				break
			}
		}

		idx, ok := g.arenaIndexOf(current.id)
		if !ok {
			continue
		}
		currentNode := g.arena[idx]
		neighbors := currentNode.snapshotNeighbors(layer)

		for _, nb := range neighbors {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			nIdx, ok := g.arenaIndexOf(nb)
			if !ok {
				continue
			}
			nbNode := g.arena[nIdx]
			dist, err := g.traversalDistance(query, queryCode, nbNode)
			if err != nil {
				continue
			}

			if len(dynamic) < ef || g.better(dist, dynamic[len(dynamic)-1].dist) {
				candidates = push(candidates, candidate{id: nb, dist: dist}, true)
				dynamic = push(dynamic, candidate{id: nb, dist: dist}, true)
				if len(dynamic) > ef {
					dynamic = dynamic[:ef]
				}
			}
		}
	}

	result := make([]int64, len(dynamic))
	for i, c := range dynamic {
		result[i] = c.id
	}
	return result
}

func (g *Graph) searchLayerClosest(query []float32, queryCode []int8, entryPoints []int64, num, layer int) []int64 {
	result := g.searchLayer(query, queryCode, entryPoints, num, layer)
	if len(result) > num {
		return result[:num]
	}
	return result
}

// selectNeighborsHeuristic implements Malkov's diversity-aware
// selection: accept a candidate into the neighbour set only if no
// already-accepted neighbour is closer to it than the query is. This
// favours spreading connections across directions instead of clustering
// them all on the query's near side, which is what keeps the graph
// navigable.
func (g *Graph) selectNeighborsHeuristic(query []float32, candidateIDs []int64, m int) []int64 {
	if len(candidateIDs) <= m {
		out := make([]int64, len(candidateIDs))
		copy(out, candidateIDs)
		return out
	}

	cands := make([]candidate, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		idx, ok := g.arenaIndexOf(id)
		if !ok {
			continue
		}
		vec, err := g.vectors.Vector(id)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{id: id, dist: g.cfg.Distance(query, vec)})
		_ = idx
	}
	sort.Slice(cands, func(i, j int) bool { return g.better(cands[i].dist, cands[j].dist) })

	selected := make([]candidate, 0, m)
	var rest []candidate
	for _, c := range cands {
		if len(selected) >= m {
			rest = append(rest, c)
			continue
		}
		vec, err := g.vectors.Vector(c.id)
		if err != nil {
			continue
		}
		accept := true
		for _, s := range selected {
			sVec, err := g.vectors.Vector(s.id)
			if err != nil {
				continue
			}
			distToSelected := g.cfg.Distance(vec, sVec)
			if g.better(distToSelected, c.dist) {
				accept = false
				break
			}
		}
		if accept {
			selected = append(selected, c)
		} else {
			rest = append(rest, c)
		}
	}
	// Pad with the closest remaining candidates if the diversity
	// pruning left the neighbour list under-full.
	for _, c := range rest {
		if len(selected) >= m {
			break
		}
		selected = append(selected, c)
	}

	out := make([]int64, len(selected))
	for i, c := range selected {
		out[i] = c.id
	}
	return out
}

// Search performs k-nearest-neighbour search: greedy descent at ef=1
// down to layer 0, then a beam search at layer 0 with the caller's ef.
// Tombstoned nodes are traversed but excluded from the returned set.
// In dual-precision mode, the layer-0 beam is widened to
// ef*Oversampling candidates by int8 distance, which are re-ranked in
// float32 before truncating to k.
func (g *Graph) Search(query []float32, k, ef int) ([]int64, []float32, error) {
	if len(query) != g.cfg.Dim {
		return nil, nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil, nil
	}
	if ef < k {
		ef = k
	}

	g.arenaMu.RLock()
	entryIdx := g.entryPoint
	g.arenaMu.RUnlock()
	if entryIdx == -1 {
		return nil, nil, nil
	}

	var queryCode []int8
	if g.quant != nil && g.quant.Trained {
		c, err := g.quant.EncodeInt8(query)
		if err == nil {
			queryCode = c
		}
	}

	entryNode := g.nodeAt(entryIdx)
	currNearest := []int64{entryNode.id}
	for layer := entryNode.level; layer > 0; layer-- {
		currNearest = g.searchLayerClosest(query, queryCode, currNearest, 1, layer)
	}

	effectiveEf := ef
	if g.cfg.Mode == quantization.ModeDual {
		effectiveEf = ef * g.cfg.Oversampling
	}
	candidates := g.searchLayer(query, queryCode, currNearest, effectiveEf, 0)

	type scored struct {
		id   int64
		dist float32
	}
	results := make([]scored, 0, len(candidates))
	for _, id := range candidates {
		idx, ok := g.arenaIndexOf(id)
		if !ok {
			continue
		}
		n := g.arena[idx]
		if n.deleted {
			continue
		}
		vec, err := g.vectors.Vector(id)
		if err != nil {
			continue
		}
		results = append(results, scored{id: id, dist: g.cfg.Distance(query, vec)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].dist == results[j].dist {
			return results[i].id < results[j].id
		}
		return g.better(results[i].dist, results[j].dist)
	})

	if k > len(results) {
		k = len(results)
	}
	ids := make([]int64, k)
	dists := make([]float32, k)
	for i := 0; i < k; i++ {
		ids[i] = results[i].id
		dists[i] = results[i].dist
	}
	return ids, dists, nil
}

// Delete soft-tombstones a node. Its edges stay linked until Vacuum
// rebuilds the graph, so traversal through a deleted node still works;
// Search filters tombstoned nodes from its returned set.
func (g *Graph) Delete(id int64) error {
	idx, ok := g.arenaIndexOf(id)
	if !ok {
		return ErrNotFound
	}
	n := g.arena[idx]
	n.mu.Lock()
	n.deleted = true
	n.mu.Unlock()

	g.arenaMu.Lock()
	defer g.arenaMu.Unlock()
	if g.entryPoint == idx {
		for i, candidate := range g.arena {
			candidate.mu.RLock()
			dead := candidate.deleted
			candidate.mu.RUnlock()
			if !dead {
				g.entryPoint = i
				break
			}
		}
	}
	return nil
}

// Size returns the number of live (non-tombstoned) nodes.
func (g *Graph) Size() int {
	g.arenaMu.RLock()
	defer g.arenaMu.RUnlock()
	count := 0
	for _, n := range g.arena {
		n.mu.RLock()
		if !n.deleted {
			count++
		}
		n.mu.RUnlock()
	}
	return count
}

// Stats reports summary statistics about the graph's shape.
type Stats struct {
	TotalNodes       int
	ActiveNodes      int
	DeletedNodes     int
	TotalEdges       int
	AvgEdgesPerNode  float64
	MaxLevel         int
	LevelDistribution map[int]int
	M                int
	EfConstruction   int
}

func (g *Graph) Stats() Stats {
	g.arenaMu.RLock()
	defer g.arenaMu.RUnlock()

	s := Stats{TotalNodes: len(g.arena), LevelDistribution: make(map[int]int), M: g.cfg.M, EfConstruction: g.cfg.EfConstruction}
	for _, n := range g.arena {
		n.mu.RLock()
		if !n.deleted {
			s.ActiveNodes++
			if n.level > s.MaxLevel {
				s.MaxLevel = n.level
			}
			s.LevelDistribution[n.level]++
			for _, layer := range n.neighbors {
				s.TotalEdges += len(layer)
			}
		}
		n.mu.RUnlock()
	}
	s.DeletedNodes = s.TotalNodes - s.ActiveNodes
	if s.ActiveNodes > 0 {
		s.AvgEdgesPerNode = float64(s.TotalEdges) / float64(s.ActiveNodes)
	}
	return s
}

// DeletionRatio reports tombstoned/total, the metric Vacuum thresholds
// against.
func (g *Graph) DeletionRatio() float64 {
	s := g.Stats()
	if s.TotalNodes == 0 {
		return 0
	}
	return float64(s.DeletedNodes) / float64(s.TotalNodes)
}

// Vacuum rebuilds the graph from its currently-live ids when the
// tombstone ratio exceeds threshold. Concurrent reads keep serving the
// old graph (the caller swaps the pointer only after Vacuum returns);
// concurrent inserts are rejected with ErrConcurrentRebuild for the
// duration. ctx is checked between nodes, so a deadline set by the
// caller aborts a large rebuild promptly with ErrCancelled instead of
// running it to completion.
func (g *Graph) Vacuum(ctx context.Context, threshold float64) (*Graph, bool, error) {
	if threshold <= 0 {
		threshold = 0.2
	}
	if g.DeletionRatio() < threshold {
		return g, false, nil
	}

	g.rebuildMu.Lock()
	g.rebuilding = true
	g.rebuildMu.Unlock()
	defer func() {
		g.rebuildMu.Lock()
		g.rebuilding = false
		g.rebuildMu.Unlock()
	}()

	fresh := New(g.cfg, g.vectors)
	fresh.quant = g.quant

	g.arenaMu.RLock()
	liveIDs := make([]int64, 0, len(g.arena))
	for _, n := range g.arena {
		n.mu.RLock()
		if !n.deleted {
			liveIDs = append(liveIDs, n.id)
		}
		n.mu.RUnlock()
	}
	g.arenaMu.RUnlock()

	for _, id := range liveIDs {
		if cancelled(ctx) {
			return g, false, ErrCancelled
		}
		vec, err := g.vectors.Vector(id)
		if err != nil {
			continue
		}
		if err := fresh.Insert(id, vec); err != nil {
			return g, false, err
		}
	}
	return fresh, true, nil
}

// --- persistence -------------------------------------------------------

// Dump writes the header (magic, version, flags with the dual-mode bit,
// M, D, entry point, node count) followed by each node's id, layer,
// deleted flag, and per-layer neighbour lists as varint-prefixed id
// arrays, terminated with a CRC32 over the whole body so Load can
// detect torn writes. ctx is checked once per node.
func (g *Graph) Dump(ctx context.Context, w io.Writer) error {
	g.arenaMu.RLock()
	defer g.arenaMu.RUnlock()

	bw := bufio.NewWriter(w)
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(bw, crc)

	if err := binary.Write(mw, binary.LittleEndian, dumpMagic); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, dumpVersion); err != nil {
		return err
	}
	var flags uint16
	if g.cfg.Mode == quantization.ModeDual {
		flags |= 1
	}
	if err := binary.Write(mw, binary.LittleEndian, flags); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, uint32(g.cfg.M)); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, uint32(g.cfg.Dim)); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, int32(g.entryPoint)); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, uint32(len(g.arena))); err != nil {
		return err
	}

	varintBuf := make([]byte, binary.MaxVarintLen64)
	writeVarint := func(v uint64) error {
		n := binary.PutUvarint(varintBuf, v)
		_, err := mw.Write(varintBuf[:n])
		return err
	}

	for _, n := range g.arena {
		if cancelled(ctx) {
			return ErrCancelled
		}
		n.mu.RLock()
		if err := binary.Write(mw, binary.LittleEndian, n.id); err != nil {
			n.mu.RUnlock()
			return err
		}
		if err := binary.Write(mw, binary.LittleEndian, uint16(n.level)); err != nil {
			n.mu.RUnlock()
			return err
		}
		deletedByte := byte(0)
		if n.deleted {
			deletedByte = 1
		}
		if err := bw.WriteByte(deletedByte); err != nil {
			n.mu.RUnlock()
			return err
		}
		crc.Write([]byte{deletedByte})

		if err := writeVarint(uint64(len(n.neighbors))); err != nil {
			n.mu.RUnlock()
			return err
		}
		for _, layer := range n.neighbors {
			if err := writeVarint(uint64(len(layer))); err != nil {
				n.mu.RUnlock()
				return err
			}
			for _, nb := range layer {
				if err := writeVarint(uint64(nb)); err != nil {
					n.mu.RUnlock()
					return err
				}
			}
		}
		n.mu.RUnlock()
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, crc.Sum32())
}

// Load reads a dump produced by Dump. vectors must resolve the same
// point ids the dump was created from; Load is strict on magic/version
// and refuses to guess at a migration. ctx is checked once per node.
func Load(ctx context.Context, r io.Reader, vectors VectorSource, distance DistanceFunc, lower bool) (*Graph, error) {
	br := bufio.NewReader(r)
	crc := crc32.NewIEEE()
	mr := io.TeeReader(br, crc)

	var magic uint32
	if err := binary.Read(mr, binary.LittleEndian, &magic); err != nil {
		return nil, ErrCorruptDump
	}
	if magic != dumpMagic {
		return nil, ErrCorruptDump
	}
	var version uint16
	if err := binary.Read(mr, binary.LittleEndian, &version); err != nil || version != dumpVersion {
		return nil, ErrCorruptDump
	}
	var flags uint16
	if err := binary.Read(mr, binary.LittleEndian, &flags); err != nil {
		return nil, ErrCorruptDump
	}
	var m, dim uint32
	if err := binary.Read(mr, binary.LittleEndian, &m); err != nil {
		return nil, ErrCorruptDump
	}
	if err := binary.Read(mr, binary.LittleEndian, &dim); err != nil {
		return nil, ErrCorruptDump
	}
	var entryPoint int32
	if err := binary.Read(mr, binary.LittleEndian, &entryPoint); err != nil {
		return nil, ErrCorruptDump
	}
	var count uint32
	if err := binary.Read(mr, binary.LittleEndian, &count); err != nil {
		return nil, ErrCorruptDump
	}

	mode := quantization.ModeNone
	if flags&1 != 0 {
		mode = quantization.ModeDual
	}
	cfg := DefaultConfig(int(dim), distance, lower)
	cfg.M = int(m)
	cfg.Mode = mode
	g := New(cfg, vectors)
	g.entryPoint = int(entryPoint)

	tbr := &teeByteReader{br: br, crc: crc}
	readVarint := func() (uint64, error) { return binary.ReadUvarint(tbr) }

	g.arena = make([]*node, 0, count)
	g.idToArena = make(map[int64]int, count)
	for i := uint32(0); i < count; i++ {
		if cancelled(ctx) {
			return nil, ErrCancelled
		}
		var id int64
		if err := binary.Read(mr, binary.LittleEndian, &id); err != nil {
			return nil, ErrCorruptDump
		}
		var level uint16
		if err := binary.Read(mr, binary.LittleEndian, &level); err != nil {
			return nil, ErrCorruptDump
		}
		deletedByte, err := br.ReadByte()
		if err != nil {
			return nil, ErrCorruptDump
		}
		crc.Write([]byte{deletedByte})

		numLayers, err := readVarint()
		if err != nil {
			return nil, ErrCorruptDump
		}
		neighbors := make([][]int64, numLayers)
		for l := uint64(0); l < numLayers; l++ {
			layerLen, err := readVarint()
			if err != nil {
				return nil, ErrCorruptDump
			}
			layer := make([]int64, layerLen)
			for j := uint64(0); j < layerLen; j++ {
				v, err := readVarint()
				if err != nil {
					return nil, ErrCorruptDump
				}
				layer[j] = int64(v)
			}
			neighbors[l] = layer
		}

		n := &node{id: id, level: int(level), neighbors: neighbors, deleted: deletedByte == 1}
		g.arena = append(g.arena, n)
		g.idToArena[id] = len(g.arena) - 1
	}

	var wantCRC uint32
	if err := binary.Read(br, binary.LittleEndian, &wantCRC); err != nil {
		return nil, ErrCorruptDump
	}
	if crc.Sum32() != wantCRC {
		return nil, ErrCorruptDump
	}

	return g, nil
}
