//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/storage/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/krakalus/ledger/internal/keys"
	"github.com/krakalus/ledger/internal/storage"
)

// setupPostgres starts a PostgreSQL container and opens a Storage against
// it. The backend applies its own schema on connect (postgresDDL), so no
// separate migration step is required here; db/migrations/0001_messages.sql
// holds the same schema for operators who provision it out of band.
func setupPostgres(t *testing.T) (storage.Storage, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("ledger_test"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("get connection string: %v", err)
	}

	backend, err := storage.New(connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("storage.New: %v", err)
	}

	cleanup := func() {
		backend.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return backend, cleanup
}

func TestPostgres_AppendAndLoadMessages_RoundTrip(t *testing.T) {
	backend, cleanup := setupPostgres(t)
	defer cleanup()

	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	first := signedEntry(t, kp, "sess-pg-1", 0, "", "hello")
	if err := backend.Append(first); err != nil {
		t.Fatalf("append first: %v", err)
	}

	firstHash, err := digestOf(first)
	if err != nil {
		t.Fatalf("digest first: %v", err)
	}
	second := signedEntry(t, kp, "sess-pg-1", 1, firstHash, "world")
	if err := backend.Append(second); err != nil {
		t.Fatalf("append second: %v", err)
	}

	loaded, err := backend.LoadMessages("sess-pg-1")
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("want 2 entries, got %d", len(loaded))
	}
	if loaded[0].Content != "hello" || loaded[1].Content != "world" {
		t.Errorf("unexpected content order: %q, %q", loaded[0].Content, loaded[1].Content)
	}
}

func TestPostgres_Append_IsIdempotentOnRetry(t *testing.T) {
	backend, cleanup := setupPostgres(t)
	defer cleanup()

	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	e := signedEntry(t, kp, "sess-pg-2", 0, "", "hello")

	if err := backend.Append(e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := backend.Append(e); err != nil {
		t.Fatalf("retried append: %v", err)
	}

	count, err := backend.MessageCount("sess-pg-2")
	if err != nil {
		t.Fatalf("message count: %v", err)
	}
	if count != 1 {
		t.Errorf("want count 1 after retry, got %d", count)
	}
}

func TestPostgres_LoadMessages_DetectsBrokenChainOnReload(t *testing.T) {
	backend, cleanup := setupPostgres(t)
	defer cleanup()

	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	first := signedEntry(t, kp, "sess-pg-3", 0, "", "one")
	if err := backend.Append(first); err != nil {
		t.Fatalf("append first: %v", err)
	}
	broken := signedEntry(t, kp, "sess-pg-3", 1, "00000000000000000000000000000000000000000000000000000000000000", "two")
	if err := backend.Append(broken); err != nil {
		t.Fatalf("append second: %v", err)
	}

	if _, err := backend.LoadMessages("sess-pg-3"); err == nil {
		t.Fatal("expected broken chain to be detected on reload")
	}
}

func TestPostgres_ListSessions_Recent_LatestTimestamp(t *testing.T) {
	backend, cleanup := setupPostgres(t)
	defer cleanup()

	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	prevHash := ""
	for i := int64(0); i < 3; i++ {
		e := signedEntry(t, kp, "sess-pg-4", i, prevHash, "msg")
		if err := backend.Append(e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		h, err := digestOf(e)
		if err != nil {
			t.Fatalf("digest %d: %v", i, err)
		}
		prevHash = h
	}

	ids, err := backend.ListSessions()
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	var found bool
	for _, id := range ids {
		if id == "sess-pg-4" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected sess-pg-4 in %v", ids)
	}

	recent, err := backend.Recent("sess-pg-4", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Sequence != 1 || recent[1].Sequence != 2 {
		t.Errorf("unexpected recent window: %+v", recent)
	}

	_, ok, err := backend.LatestTimestamp("sess-pg-4")
	if err != nil {
		t.Fatalf("latest timestamp: %v", err)
	}
	if !ok {
		t.Error("expected a latest timestamp for a non-empty session")
	}
}
