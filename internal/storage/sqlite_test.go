package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLite_SetGetRoundtrip(t *testing.T) {
	store := openTestStore(t)

	if err := store.Set("history.tasks", []byte(`[{"id":"t1"}]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := store.Get("history.tasks")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("Get: want ok=true for stored key")
	}
	if string(value) != `[{"id":"t1"}]` {
		t.Errorf("Get value: want %q, got %q", `[{"id":"t1"}]`, value)
	}
}

func TestSQLite_GetMissing(t *testing.T) {
	store := openTestStore(t)

	value, ok, err := store.Get("no.such.key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("Get: want ok=false for missing key")
	}
	if value != nil {
		t.Errorf("Get: want nil value for missing key, got %q", value)
	}
}

func TestSQLite_Overwrite(t *testing.T) {
	store := openTestStore(t)

	if err := store.Set("metrics.cache", []byte("v1")); err != nil {
		t.Fatalf("first Set failed: %v", err)
	}
	if err := store.Set("metrics.cache", []byte("v2")); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}

	value, ok, err := store.Get("metrics.cache")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(value) != "v2" {
		t.Errorf("overwrite: want v2, got %q", value)
	}
}

func TestSQLite_Delete(t *testing.T) {
	store := openTestStore(t)

	if err := store.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := store.Get("k"); ok {
		t.Error("key still present after Delete")
	}

	if err := store.Delete("never.existed"); err != nil {
		t.Errorf("deleting absent key should not error, got: %v", err)
	}
}

func TestSQLite_KeysPrefix(t *testing.T) {
	store := openTestStore(t)

	seed := map[string]string{
		"history.tasks":          "[]",
		"history.transcript.t1":  "[]",
		"history.transcript.t2":  "[]",
		"metrics.cache":          "{}",
		"history.transcript%odd": "[]",
	}
	for k, v := range seed {
		if err := store.Set(k, []byte(v)); err != nil {
			t.Fatalf("Set %q failed: %v", k, err)
		}
	}

	keys, err := store.Keys("history.transcript.")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	want := []string{"history.transcript.t1", "history.transcript.t2"}
	if len(keys) != len(want) {
		t.Fatalf("Keys: want %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys[%d]: want %q, got %q", i, want[i], keys[i])
		}
	}

	// A prefix containing LIKE metacharacters must match literally.
	keys, err = store.Keys("history.transcript%")
	if err != nil {
		t.Fatalf("Keys with %% prefix failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "history.transcript%odd" {
		t.Errorf("Keys with %% prefix: want [history.transcript%%odd], got %v", keys)
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if err := store1.Set("provenance.state", []byte(`{"batches":{}}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = store2.Close() }()

	value, ok, err := store2.Get("provenance.state")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if string(value) != `{"batches":{}}` {
		t.Errorf("value after reopen: got %q", value)
	}
}

func TestSQLite_OperationsAfterClose(t *testing.T) {
	store := openTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close should be nil, got: %v", err)
	}

	if _, _, err := store.Get("k"); err != ErrClosed {
		t.Errorf("Get after Close: want ErrClosed, got %v", err)
	}
	if err := store.Set("k", nil); err != ErrClosed {
		t.Errorf("Set after Close: want ErrClosed, got %v", err)
	}
	if err := store.Delete("k"); err != ErrClosed {
		t.Errorf("Delete after Close: want ErrClosed, got %v", err)
	}
	if _, err := store.Keys(""); err != ErrClosed {
		t.Errorf("Keys after Close: want ErrClosed, got %v", err)
	}
}

func TestSchema_CreateFresh(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	var version int
	if err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		t.Fatalf("failed to read schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("schema version: want 1, got %d", version)
	}

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv'").Scan(&name)
	if err == sql.ErrNoRows {
		t.Error("kv table not found")
	} else if err != nil {
		t.Fatalf("error checking kv table: %v", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("failed to read journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode: want wal, got %s", journalMode)
	}
}

func TestSchema_CreateParentDirs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed with nested path: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestSchema_ForwardVersionRejected(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	futureDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to create future DB: %v", err)
	}
	if _, err := futureDB.Exec("CREATE TABLE schema_version (version INTEGER)"); err != nil {
		t.Fatalf("failed to create schema_version table: %v", err)
	}
	if _, err := futureDB.Exec("INSERT INTO schema_version (version) VALUES (999)"); err != nil {
		t.Fatalf("failed to insert future version: %v", err)
	}
	_ = futureDB.Close()

	_, err = OpenDB(dbPath)
	if err == nil {
		t.Fatal("OpenDB should have failed for forward schema version, but succeeded")
	}
	for _, phrase := range []string{"999", "newer", dbPath} {
		if !strings.Contains(err.Error(), phrase) {
			t.Errorf("error message missing %q: %s", phrase, err)
		}
	}
}
