// Package testutil provides shared test helpers: temporary backends, a
// frozen clock, and a deterministic randomness source.
package testutil

import (
	"math/rand"
	"testing"

	"github.com/obiverse/nine-s/internal/filens"
	"github.com/obiverse/nine-s/internal/sqlitens"
)

// FrozenClock returns a clock stuck at ms.
func FrozenClock(ms int64) func() int64 {
	return func() int64 { return ms }
}

// TickingClock returns a clock that advances by step on every call,
// starting at start.
func TickingClock(start, step int64) func() int64 {
	now := start - step
	return func() int64 {
		now += step
		return now
	}
}

// SeededRand returns a deterministic byte source for nonces, salts, and
// ids in tests.
func SeededRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// TestFileNS creates a file namespace in a temporary directory.
func TestFileNS(t *testing.T) *filens.Namespace {
	t.Helper()
	n, err := filens.New(t.TempDir())
	if err != nil {
		t.Fatalf("filens.New: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// TestSQLiteNS creates a sqlite namespace backed by a temporary file.
func TestSQLiteNS(t *testing.T) *sqlitens.Namespace {
	t.Helper()
	n, err := sqlitens.Open(t.TempDir() + "/scrolls.db")
	if err != nil {
		t.Fatalf("sqlitens.Open: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}
