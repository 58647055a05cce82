package jsonfile_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/classpoints/points"
	"github.com/warp/classpoints/store/jsonfile"
)

func openStore(t *testing.T, dir string) *jsonfile.Store {
	t.Helper()
	s, err := jsonfile.New(dir, nil)
	require.NoError(t, err)
	return s
}

func putStudents(t *testing.T, s *jsonfile.Store, doc *points.StudentsDoc) {
	t.Helper()
	tx, err := s.Begin(context.Background(), points.ColStudents)
	require.NoError(t, err)
	defer tx.End()
	require.NoError(t, tx.SetStudents(doc))
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, t.TempDir())

	putStudents(t, store, &points.StudentsDoc{Students: []points.Student{
		{ID: "s1", Name: "Ada", Class: "3A", Balance: 12, CreatedAt: time.Now().UTC()},
	}})

	doc, err := store.Students(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Students, 1)
	assert.Equal(t, "Ada", doc.Students[0].Name)
	assert.Equal(t, 12, doc.Students[0].Balance)

	// Mutating a returned document never leaks into the store.
	doc.Students[0].Balance = 999
	again, err := store.Students(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, again.Students[0].Balance)
}

func TestStore_MaterializesDefaults(t *testing.T) {
	// GIVEN: an empty data directory
	// THEN: every collection reads as its empty document and the config as
	//       the shipped defaults, with the files created on first read
	ctx := context.Background()
	dir := t.TempDir()
	store := openStore(t, dir)

	students, err := store.Students(ctx)
	require.NoError(t, err)
	assert.Empty(t, students.Students)

	cfg, err := store.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, points.ModeNormal, cfg.Mode)
	assert.Equal(t, 100, cfg.MaxPointsPerOp)

	for _, name := range []string{"students.json", "config.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestStore_VersionCounter(t *testing.T) {
	store := openStore(t, t.TempDir())
	assert.EqualValues(t, 0, store.Version(points.ColStudents))

	putStudents(t, store, &points.StudentsDoc{Students: []points.Student{}})
	putStudents(t, store, &points.StudentsDoc{Students: []points.Student{}})
	assert.EqualValues(t, 2, store.Version(points.ColStudents))
	assert.EqualValues(t, 0, store.Version(points.ColOrders))
}

func TestStore_BackupRotation(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, dir)

	for i := 0; i < 14; i++ {
		putStudents(t, store, &points.StudentsDoc{Students: []points.Student{
			{ID: fmt.Sprintf("s%d", i), Name: "N"},
		}})
		time.Sleep(2 * time.Millisecond) // distinct backup stamps
	}

	backups := listBackups(t, dir, "students.")
	assert.NotEmpty(t, backups)
	assert.LessOrEqual(t, len(backups), 10)
}

func TestStore_HealsFromBackup(t *testing.T) {
	// GIVEN: a corrupted live file with an intact backup behind it
	// WHEN:  a fresh store reads the collection
	// THEN:  the backup's content is served and the live file rewritten
	ctx := context.Background()
	dir := t.TempDir()
	store := openStore(t, dir)

	putStudents(t, store, &points.StudentsDoc{Students: []points.Student{{ID: "s1", Name: "Ada"}}})
	putStudents(t, store, &points.StudentsDoc{Students: []points.Student{{ID: "s1", Name: "Ada"}, {ID: "s2", Name: "Bo"}}})

	live := filepath.Join(dir, "students.json")
	require.NoError(t, os.WriteFile(live, []byte("{torn"), 0o644))

	fresh := openStore(t, dir)
	doc, err := fresh.Students(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Students, 1, "newest backup is the pre-write snapshot")
	assert.Equal(t, "Ada", doc.Students[0].Name)

	raw, err := os.ReadFile(live)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "Ada"), "live file rewritten from backup")
}

func TestStore_DefaultsWhenNoUsableBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "backups"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "students.json"), []byte("not json"), 0o644))

	store := openStore(t, dir)
	doc, err := store.Students(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Students)
}

func TestStore_RejectsUnknownFields(t *testing.T) {
	// A document with fields this build does not know is treated as corrupt,
	// not silently truncated.
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "backups"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "students.json"),
		[]byte(`{"students": [], "surprise": true}`), 0o644))

	store := openStore(t, dir)
	doc, err := store.Students(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Students, "unknown-field document replaced by default")
}

func TestTx_MultiCollectionNoDeadlock(t *testing.T) {
	// Two goroutines begin transactions naming the same collections in
	// opposite orders; canonical lock ordering keeps them from deadlocking.
	ctx := context.Background()
	store := openStore(t, t.TempDir())

	var wg sync.WaitGroup
	run := func(cols ...points.Collection) {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			tx, err := store.Begin(ctx, cols...)
			if err != nil {
				t.Error(err)
				return
			}
			doc, err := tx.Students()
			if err == nil {
				_ = tx.SetStudents(doc)
			}
			tx.End()
		}
	}
	wg.Add(2)
	go run(points.ColStudents, points.ColOrders, points.ColPoints)
	go run(points.ColPoints, points.ColOrders, points.ColStudents)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("transactions deadlocked")
	}
}

func TestTx_EndIsIdempotent(t *testing.T) {
	store := openStore(t, t.TempDir())
	tx, err := store.Begin(context.Background(), points.ColStudents)
	require.NoError(t, err)
	tx.End()
	tx.End()

	// The collection is lockable again.
	tx2, err := store.Begin(context.Background(), points.ColStudents)
	require.NoError(t, err)
	tx2.End()
}

func TestTx_UnownedCollectionPanics(t *testing.T) {
	store := openStore(t, t.TempDir())
	tx, err := store.Begin(context.Background(), points.ColStudents)
	require.NoError(t, err)
	defer tx.End()

	assert.Panics(t, func() { _, _ = tx.Orders() })
}

func TestStore_WriteVisibleThroughCache(t *testing.T) {
	// Writes replace the cache entry, so a read immediately after a write
	// observes the new state even within the TTL.
	ctx := context.Background()
	store := openStore(t, t.TempDir())

	_, err := store.Students(ctx) // prime the cache with the empty doc
	require.NoError(t, err)

	putStudents(t, store, &points.StudentsDoc{Students: []points.Student{{ID: "s1", Name: "Ada"}}})

	doc, err := store.Students(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Students, 1)
}

func listBackups(t *testing.T, dir, prefix string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	return names
}
