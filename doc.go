// Package velesdb is an embedded vector database: it stores
// high-dimensional float vectors with associated metadata payloads and
// graph edges, and serves approximate-nearest-neighbour, full-text,
// hybrid, and VelesQL queries over them from in-process Go code.
//
// The package is organised bottom-up:
//
//	pkg/simd         SIMD-dispatched distance kernels
//	pkg/quantization scalar and dual-precision vector quantisation
//	pkg/hnsw         the native HNSW graph index
//	pkg/mmapstore    the memory-mapped vector page file
//	pkg/payloadlog   the append-only payload log
//	pkg/bm25         the inverted full-text index
//	pkg/cache        LRU payload cache and Bloom existence filter
//	pkg/bitmap       roaring-bitmap pre-filter sets
//	pkg/graph        the node/edge overlay, with its own append-only log
//	pkg/compression  dictionary/delta/run-length value encoding
//	pkg/metrics      per-operation latency/error tracking and Prometheus export
//	pkg/fusion       multi-query result fusion strategies
//	pkg/velesql      the query language: lexer, parser, planner, executor
//	pkg/collection   Collection: composes everything behind one surface
//	pkg/database     Database: directory-rooted collection registry
//
// Setting VELESDB_NO_UPDATE_CHECK=1 disables the optional update-check
// collaborator shipped by host bindings; the core package never performs
// network access and does not read this variable itself.
package velesdb
