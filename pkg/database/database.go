// Package database implements the directory-rooted registry of
// collections: one root directory holds one subdirectory per
// collection, each guarded by a cross-process advisory lock, with a
// small metadata file recording the collection's dimension and
// similarity metric across reopens.
package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/velesdb/velesdb/internal/logging"
	"github.com/velesdb/velesdb/pkg/collection"
)

const metaFileName = "meta.json"
const lockFileName = ".lock"

// meta is the on-disk record of a collection's static configuration,
// written once at creation and read back on every reopen.
type meta struct {
	Name             string            `json:"name"`
	Dim              int               `json:"dim"`
	Metric           collection.Metric `json:"metric"`
	QuantizationMode string            `json:"quantization_mode"`
}

// Database is a directory-rooted registry of collections. Opening the
// same root from two processes is safe: each collection subdirectory
// carries its own advisory lock file, so one process holding a
// collection open blocks another from opening it for writes.
type Database struct {
	mu      sync.Mutex
	root    string
	log     logging.Logger
	open    map[string]*openCollection
}

type openCollection struct {
	coll *collection.Collection
	lock *flock.Flock
	meta meta
}

// Open returns a Database rooted at dir, creating dir if it does not
// exist.
func Open(dir string, log logging.Logger) (*Database, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("database: create root: %w", err)
	}
	return &Database{root: dir, log: log, open: make(map[string]*openCollection)}, nil
}

func (db *Database) collectionDir(name string) string {
	return filepath.Join(db.root, name)
}

// Create bootstraps a new collection directory with the given
// dimension and metric, then opens it.
func (db *Database) Create(name string, opts collection.Options) (*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.open[name]; ok {
		return nil, fmt.Errorf("database: collection %q is already open", name)
	}
	dir := db.collectionDir(name)
	if _, err := os.Stat(filepath.Join(dir, metaFileName)); err == nil {
		return nil, fmt.Errorf("database: collection %q already exists", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("database: create collection directory: %w", err)
	}

	m := meta{Name: name, Dim: opts.Dim, Metric: opts.Metric, QuantizationMode: opts.QuantizationMode.String()}
	if err := writeMeta(dir, m); err != nil {
		return nil, err
	}
	return db.openLocked(name, opts)
}

// Open reopens an existing collection, reading its dimension and
// metric back from meta.json; overrides in opts are ignored for those
// two fields since they are fixed at creation time.
func (db *Database) Open(name string, opts collection.Options) (*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if oc, ok := db.open[name]; ok {
		return oc.coll, nil
	}
	dir := db.collectionDir(name)
	m, err := readMeta(dir)
	if err != nil {
		return nil, fmt.Errorf("database: collection %q: %w", name, err)
	}
	opts.Dim = m.Dim
	opts.Metric = m.Metric
	return db.openLocked(name, opts)
}

func (db *Database) openLocked(name string, opts collection.Options) (*collection.Collection, error) {
	dir := db.collectionDir(name)
	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("database: lock collection %q: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("database: collection %q is locked by another process", name)
	}

	opts.Logger = db.log
	coll, err := collection.Open(dir, opts)
	if err != nil {
		fl.Unlock()
		return nil, err
	}
	m, err := readMeta(dir)
	if err != nil {
		m = meta{Name: name, Dim: opts.Dim, Metric: opts.Metric}
	}
	db.open[name] = &openCollection{coll: coll, lock: fl, meta: m}
	return coll, nil
}

// List returns the names of collections with a meta.json under the
// database root, regardless of whether they are currently open.
func (db *Database) List() ([]string, error) {
	entries, err := os.ReadDir(db.root)
	if err != nil {
		return nil, fmt.Errorf("database: list: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(db.root, e.Name(), metaFileName)); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Close flushes and closes one open collection, releasing its lock.
func (db *Database) Close(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	oc, ok := db.open[name]
	if !ok {
		return nil
	}
	var firstErr error
	if err := oc.coll.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := oc.coll.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := oc.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	delete(db.open, name)
	return firstErr
}

// CloseAll closes every open collection.
func (db *Database) CloseAll() error {
	db.mu.Lock()
	names := make([]string, 0, len(db.open))
	for name := range db.open {
		names = append(names, name)
	}
	db.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := db.Close(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Drop closes (if open) and permanently deletes a collection
// directory.
func (db *Database) Drop(name string) error {
	if err := db.Close(name); err != nil {
		return err
	}
	dir := db.collectionDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("database: drop %q: %w", name, err)
	}
	return nil
}

func writeMeta(dir string, m meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("database: marshal meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644); err != nil {
		return fmt.Errorf("database: write meta: %w", err)
	}
	return nil
}

func readMeta(dir string) (meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return meta{}, fmt.Errorf("read meta: %w", err)
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return meta{}, fmt.Errorf("decode meta: %w", err)
	}
	return m, nil
}
