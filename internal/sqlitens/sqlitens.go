// Package sqlitens provides a SQLite-backed namespace: scrolls stored as
// JSON documents in a single table, WAL mode for concurrent readers.
package sqlitens

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/nspath"
	"github.com/obiverse/nine-s/internal/scroll"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scrolls (
	path       TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL DEFAULT 0
);
`

// Namespace is a SQLite-backed scroll store.
type Namespace struct {
	conn *sql.DB

	mu     sync.Mutex
	hub    *ns.Hub
	clock  func() int64
	closed bool
}

// Option configures a sqlite namespace.
type Option func(*Namespace)

// WithClock injects the millisecond-epoch clock used to stamp writes.
func WithClock(clock func() int64) Option {
	return func(n *Namespace) { n.clock = clock }
}

// WithMaxWatchers overrides the watcher cap.
func WithMaxWatchers(max int) Option {
	return func(n *Namespace) { n.hub = ns.NewHub(max) }
}

// Open opens (or creates) the database at dsn and applies the schema.
func Open(dsn string, opts ...Option) (*Namespace, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "sqlitens: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, ns.Errorf(ns.CodeInternal, "sqlitens: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, ns.Errorf(ns.CodeInternal, "sqlitens: apply schema: %w", err)
	}
	n := &Namespace{
		conn:  conn,
		hub:   ns.NewHub(0),
		clock: func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

var _ ns.Namespace = (*Namespace)(nil)

// Read returns the scroll at path, or nil when no row exists.
func (n *Namespace) Read(path string) (*scroll.Scroll, error) {
	if err := nspath.Validate(path); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "read %q: %w", path, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	return n.readLocked(path)
}

func (n *Namespace) readLocked(path string) (*scroll.Scroll, error) {
	var doc string
	err := n.conn.QueryRow(`SELECT doc FROM scrolls WHERE path = ?`, path).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "select %q: %w", path, err)
	}
	var sc scroll.Scroll
	if err := json.Unmarshal([]byte(doc), &sc); err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "parse %q: %w", path, err)
	}
	return &sc, nil
}

// Write persists data at path and notifies matching watchers.
func (n *Namespace) Write(path string, data map[string]any) (*scroll.Scroll, error) {
	return n.WriteScroll(&scroll.Scroll{Key: path, Data: data})
}

// WriteScroll persists s, recomputing version, hash, and updatedAt.
func (n *Namespace) WriteScroll(s *scroll.Scroll) (*scroll.Scroll, error) {
	if err := nspath.Validate(s.Key); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "write %q: %w", s.Key, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	prior, err := n.readLocked(s.Key)
	if err != nil {
		return nil, err
	}
	stamped, err := scroll.Stamp(prior, s, n.clock())
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "stamp %q: %w", s.Key, err)
	}
	doc, err := json.Marshal(stamped)
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "encode %q: %w", s.Key, err)
	}
	_, err = n.conn.Exec(`
		INSERT INTO scrolls (path, doc, version, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET doc = excluded.doc,
			version = excluded.version, updated_at = excluded.updated_at`,
		stamped.Key, string(doc), stamped.Metadata.Version, n.clock())
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "upsert %q: %w", s.Key, err)
	}
	n.hub.Publish(stamped)
	return stamped.Clone(), nil
}

// List returns every key under prefix in lexical order.
func (n *Namespace) List(prefix string) ([]string, error) {
	if err := nspath.Validate(prefix); err != nil {
		return nil, ns.Errorf(ns.CodeInvalidPath, "list %q: %w", prefix, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	var rows *sql.Rows
	var err error
	if prefix == nspath.Root {
		rows, err = n.conn.Query(`SELECT path FROM scrolls ORDER BY path`)
	} else {
		rows, err = n.conn.Query(
			`SELECT path FROM scrolls WHERE path = ? OR path LIKE ? ESCAPE '\' ORDER BY path`,
			prefix, likePrefix(prefix)+"/%")
	}
	if err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "list %q: %w", prefix, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, ns.Errorf(ns.CodeInternal, "scan: %w", err)
		}
		// LIKE ignores ASCII case; keep only keys that are really under prefix.
		if !nspath.IsUnder(prefix, p) {
			continue
		}
		keys = append(keys, p)
	}
	if err := rows.Err(); err != nil {
		return nil, ns.Errorf(ns.CodeInternal, "list %q: %w", prefix, err)
	}
	return keys, nil
}

// likePrefix escapes LIKE metacharacters in prefix. Path segments only
// allow [A-Za-z0-9_.-], and "_" matches any character in LIKE.
func likePrefix(prefix string) string {
	out := make([]byte, 0, len(prefix))
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '_' || c == '%' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

// Watch subscribes to writes at keys matching pattern.
func (n *Namespace) Watch(pattern string) (*ns.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ns.E(ns.CodeClosed, "namespace is closed")
	}
	return n.hub.Subscribe(pattern)
}

// Close terminates every subscription and closes the database.
func (n *Namespace) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.hub.Close()
	if err := n.conn.Close(); err != nil {
		return ns.Errorf(ns.CodeInternal, "close db: %w", err)
	}
	return nil
}
