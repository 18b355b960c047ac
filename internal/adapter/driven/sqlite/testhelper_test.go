package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oauthree/teeproxy/internal/domain/model"
)

// testKey is a fixed 32-byte AES-256 key for credential encryption in tests.
var testKey = []byte("0123456789abcdef0123456789abcdef")

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("create test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("create test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		t.Fatalf("ping test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// seedUser inserts a user row so foreign keys on dependent tables hold.
func seedUser(t *testing.T, db *DB, id string) {
	t.Helper()

	repo := NewUserRepo(db)
	err := repo.Create(context.Background(), model.User{ID: id})
	require.NoError(t, err)
}

// seedAccount inserts a linked account owned by userID.
func seedAccount(t *testing.T, db *DB, id, userID, service, externalID string) {
	t.Helper()

	repo := NewAccountRepo(db)
	err := repo.Create(context.Background(), model.LinkedAccount{
		ID:         id,
		UserID:     userID,
		Service:    service,
		ExternalID: externalID,
		Username:   "user_" + externalID,
	})
	require.NoError(t, err)
}

// seedToken inserts an active token ledger row expiring an hour from now.
func seedToken(t *testing.T, db *DB, tokenID, userID string, purpose model.TokenPurpose) {
	t.Helper()

	repo := NewTokenRepo(db)
	now := time.Now().UTC()
	err := repo.Create(context.Background(), model.DelegatedToken{
		TokenID:   tokenID,
		UserID:    userID,
		Purpose:   purpose,
		Scopes:    []string{"twitter.read"},
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)
}
