/*
Package jsonfile persists the five collections as whole JSON documents.

PURPOSE:
  Production implementation of points.Store. Each collection is one file in
  the data directory:

    students.json  {"students": [...]}
    points.json    {"records":  [...]}
    products.json  {"products": [...]}
    orders.json    {"orders":   [...]}
    config.json    { ...singleton... }

GUARANTEES:
  - Collection-level atomicity: writes go to a temp file and rename into
    place, so a reader never sees a torn document.
  - Write serialization: one mutex per collection; Begin acquires the locks
    of a transaction in canonical order, so multi-collection transitions
    cannot deadlock.
  - Read cache: raw document bytes, TTL ~30s, at most 20 entries,
    least-recently-inserted eviction, replaced on every write. Readers
    unmarshal fresh from the cached bytes, so no caller ever holds a pointer
    into shared state.
  - Rotating backups: before each write the prior bytes are snapshotted under
    backups/<name>.<timestamp>.bak; the ten most recent per collection are
    kept.
  - Self-healing reads: if the live file fails to parse, the newest backup
    that parses is restored; with no usable backup the default document is
    materialized.

FAILURE SEMANTICS:
  I/O errors surface to the caller wrapped with path context. Parse
  corruption is recovered silently when a backup allows it; only complete
  loss reaches the caller as a default document, logged loudly.
*/
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/warp/classpoints/cache"
	"github.com/warp/classpoints/points"
)

const (
	readCacheTTL = 30 * time.Second
	readCacheCap = 20
	readRetryGap = 50 * time.Millisecond
)

var fileNames = map[points.Collection]string{
	points.ColStudents: "students.json",
	points.ColPoints:   "points.json",
	points.ColProducts: "products.json",
	points.ColOrders:   "orders.json",
	points.ColConfig:   "config.json",
}

// =============================================================================
// STORE
// =============================================================================

// Store is the whole-document JSON store. Safe for concurrent use.
type Store struct {
	dir   string
	log   *logrus.Entry
	cache *cache.Cache

	mus      map[points.Collection]*sync.Mutex
	versions map[points.Collection]*atomic.Int64
}

// New opens (or initializes) a store rooted at dir.
func New(dir string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(filepath.Join(dir, "backups"), 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating data directory %s", dir)
	}
	s := &Store{
		dir:      dir,
		log:      log.WithField("component", "store"),
		cache:    cache.New(readCacheTTL, readCacheCap),
		mus:      make(map[points.Collection]*sync.Mutex),
		versions: make(map[points.Collection]*atomic.Int64),
	}
	for col := range fileNames {
		s.mus[col] = &sync.Mutex{}
		s.versions[col] = &atomic.Int64{}
	}
	return s, nil
}

// Dir returns the data directory root.
func (s *Store) Dir() string { return s.dir }

// Version returns the in-process write counter for a collection. It starts
// at zero each boot and increments on every committed write.
func (s *Store) Version(col points.Collection) int64 {
	if v, ok := s.versions[col]; ok {
		return v.Load()
	}
	return 0
}

func (s *Store) path(col points.Collection) string {
	return filepath.Join(s.dir, fileNames[col])
}

// =============================================================================
// CACHED READS
// =============================================================================

func (s *Store) Students(ctx context.Context) (*points.StudentsDoc, error) {
	doc := &points.StudentsDoc{Students: []points.Student{}}
	if err := s.readCached(ctx, points.ColStudents, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Records(ctx context.Context) (*points.RecordsDoc, error) {
	doc := &points.RecordsDoc{Records: []points.PointRecord{}}
	if err := s.readCached(ctx, points.ColPoints, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Products(ctx context.Context) (*points.ProductsDoc, error) {
	doc := &points.ProductsDoc{Products: []points.Product{}}
	if err := s.readCached(ctx, points.ColProducts, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Orders(ctx context.Context) (*points.OrdersDoc, error) {
	doc := &points.OrdersDoc{Orders: []points.Order{}}
	if err := s.readCached(ctx, points.ColOrders, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Config(ctx context.Context) (*points.SystemConfig, error) {
	cfg := points.DefaultConfig()
	if err := s.readCached(ctx, points.ColConfig, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readCached serves document bytes from the cache when live, loading (and
// possibly healing) from disk otherwise. The caller's doc is unmarshalled
// from a private copy of the bytes.
func (s *Store) readCached(ctx context.Context, col points.Collection, doc any) error {
	if raw, ok := s.cache.Get(string(col)); ok {
		return decodeStrict(raw.([]byte), doc)
	}

	// Take the collection lock so a concurrent writer cannot interleave with
	// healing or default materialization.
	mu := s.mus[col]
	mu.Lock()
	defer mu.Unlock()

	raw, err := s.loadLocked(ctx, col, doc)
	if err != nil {
		return err
	}
	s.cache.Put(string(col), raw)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// Tx holds the locks of the collections named at Begin.
type Tx struct {
	s    *Store
	ctx  context.Context
	cols []points.Collection
	done bool
}

// Begin locks the named collections in canonical order.
func (s *Store) Begin(ctx context.Context, cols ...points.Collection) (points.Tx, error) {
	sorted := make([]points.Collection, len(cols))
	copy(sorted, cols)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].LockRank() < sorted[j-1].LockRank(); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	for _, col := range sorted {
		if _, ok := s.mus[col]; !ok {
			return nil, errors.Errorf("unknown collection %q", col)
		}
	}
	for _, col := range sorted {
		s.mus[col].Lock()
	}
	return &Tx{s: s, ctx: ctx, cols: sorted}, nil
}

// End releases the locks. Idempotent.
func (tx *Tx) End() {
	if tx.done {
		return
	}
	tx.done = true
	for i := len(tx.cols) - 1; i >= 0; i-- {
		tx.s.mus[tx.cols[i]].Unlock()
	}
}

func (tx *Tx) owns(col points.Collection) {
	for _, c := range tx.cols {
		if c == col {
			return
		}
	}
	panic("jsonfile: collection " + string(col) + " not part of this transaction")
}

func (tx *Tx) read(col points.Collection, doc any) error {
	tx.owns(col)
	_, err := tx.s.loadLocked(tx.ctx, col, doc)
	return err
}

func (tx *Tx) write(col points.Collection, doc any) error {
	tx.owns(col)
	return tx.s.saveLocked(col, doc)
}

func (tx *Tx) Students() (*points.StudentsDoc, error) {
	doc := &points.StudentsDoc{Students: []points.Student{}}
	if err := tx.read(points.ColStudents, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (tx *Tx) SetStudents(doc *points.StudentsDoc) error {
	return tx.write(points.ColStudents, doc)
}

func (tx *Tx) Records() (*points.RecordsDoc, error) {
	doc := &points.RecordsDoc{Records: []points.PointRecord{}}
	if err := tx.read(points.ColPoints, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (tx *Tx) SetRecords(doc *points.RecordsDoc) error {
	return tx.write(points.ColPoints, doc)
}

func (tx *Tx) Products() (*points.ProductsDoc, error) {
	doc := &points.ProductsDoc{Products: []points.Product{}}
	if err := tx.read(points.ColProducts, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (tx *Tx) SetProducts(doc *points.ProductsDoc) error {
	return tx.write(points.ColProducts, doc)
}

func (tx *Tx) Orders() (*points.OrdersDoc, error) {
	doc := &points.OrdersDoc{Orders: []points.Order{}}
	if err := tx.read(points.ColOrders, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (tx *Tx) SetOrders(doc *points.OrdersDoc) error {
	return tx.write(points.ColOrders, doc)
}

func (tx *Tx) Config() (*points.SystemConfig, error) {
	cfg := points.DefaultConfig()
	if err := tx.read(points.ColConfig, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (tx *Tx) SetConfig(cfg *points.SystemConfig) error {
	return tx.write(points.ColConfig, cfg)
}

// =============================================================================
// DISK I/O
// =============================================================================

// loadLocked reads, heals, or defaults the collection. Caller holds the
// collection mutex. Returns the raw bytes the doc was decoded from.
func (s *Store) loadLocked(ctx context.Context, col points.Collection, doc any) ([]byte, error) {
	path := s.path(col)

	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		// Transient I/O on an idempotent read: retry once after a short gap.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(readRetryGap):
		}
		raw, err = os.ReadFile(path)
	}

	switch {
	case err == nil:
		if decodeErr := decodeStrict(raw, doc); decodeErr == nil {
			return raw, nil
		}
		s.log.WithField("collection", col).Warn("document failed to parse, attempting restore from backup")
		if healed, ok := s.healLocked(col, doc); ok {
			return healed, nil
		}
		s.log.WithField("collection", col).Error("no usable backup, materializing default document")
		return s.materializeDefault(col, doc)
	case os.IsNotExist(err):
		return s.materializeDefault(col, doc)
	default:
		return nil, errors.Wrapf(err, "reading %s", path)
	}
}

// healLocked restores the newest backup that parses into doc and rewrites the
// live file from it.
func (s *Store) healLocked(col points.Collection, doc any) ([]byte, bool) {
	for _, backup := range s.backupsNewestFirst(col) {
		raw, err := os.ReadFile(backup)
		if err != nil {
			continue
		}
		if decodeStrict(raw, doc) != nil {
			continue
		}
		if err := writeAtomic(s.path(col), raw); err != nil {
			s.log.WithError(err).WithField("collection", col).Error("failed to rewrite healed document")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"collection": col,
			"backup":     filepath.Base(backup),
		}).Warn("document restored from backup")
		return raw, true
	}
	return nil, false
}

// materializeDefault persists the zero-value document the caller supplied and
// returns its bytes. doc is already the default at this point.
func (s *Store) materializeDefault(col points.Collection, doc any) ([]byte, error) {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrapf(err, "encoding default %s", col)
	}
	if err := writeAtomic(s.path(col), raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// saveLocked snapshots the prior bytes, persists the new document, and
// replaces the cache entry. Caller holds the collection mutex.
func (s *Store) saveLocked(col points.Collection, doc any) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding %s", col)
	}

	if prior, err := os.ReadFile(s.path(col)); err == nil {
		if err := s.snapshotLocked(col, prior); err != nil {
			// A failed backup never blocks the write; it only costs recovery depth.
			s.log.WithError(err).WithField("collection", col).Warn("backup snapshot failed")
		}
	}

	if err := writeAtomic(s.path(col), raw); err != nil {
		return err
	}
	s.versions[col].Add(1)
	s.cache.Put(string(col), raw)
	return nil
}

// decodeStrict unmarshals rejecting unknown fields.
func decodeStrict(raw []byte, doc any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(doc)
}

// writeAtomic writes via temp file + rename so readers never see torn bytes.
func writeAtomic(path string, raw []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "replacing %s", path)
	}
	return nil
}
