// Package nstest runs the universal namespace laws against any
// implementation of the contract. Every backend's test file calls Run
// with a factory, so all variants are held to identical semantics.
package nstest

import (
	"regexp"
	"testing"
	"time"

	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/scroll"
)

// Factory builds a fresh, empty namespace for one subtest.
type Factory func(t *testing.T) ns.Namespace

// Options tailors the suite to a variant's capabilities.
type Options struct {
	// NoMetadataHints skips the laws that require WriteScroll to carry
	// caller metadata. The wire protocol transports path and data only,
	// so the remote proxy cannot express a tombstone write.
	NoMetadataHints bool
}

var hexHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Run executes the shared property suite.
func Run(t *testing.T, factory Factory) {
	RunWith(t, factory, Options{})
}

// RunWith executes the shared property suite with variant options.
func RunWith(t *testing.T, factory Factory, opts Options) {
	t.Run("ReadAfterWrite", func(t *testing.T) { testReadAfterWrite(t, factory(t)) })
	t.Run("MonotoneVersion", func(t *testing.T) { testMonotoneVersion(t, factory(t)) })
	t.Run("CreatedAtStable", func(t *testing.T) { testCreatedAtStable(t, factory(t)) })
	t.Run("AbsentIsNotError", func(t *testing.T) { testAbsent(t, factory(t)) })
	t.Run("ListUnderPrefix", func(t *testing.T) { testList(t, factory(t)) })
	t.Run("SegmentBoundary", func(t *testing.T) { testSegmentBoundary(t, factory(t)) })
	t.Run("WatchDelivery", func(t *testing.T) { testWatchDelivery(t, factory(t)) })
	t.Run("WatchPatterns", func(t *testing.T) { testWatchPatterns(t, factory(t)) })
	t.Run("ClosedTerminal", func(t *testing.T) { testClosedTerminal(t, factory(t)) })
	t.Run("InvalidPaths", func(t *testing.T) { testInvalidPaths(t, factory(t)) })
	if !opts.NoMetadataHints {
		t.Run("Tombstone", func(t *testing.T) { testTombstone(t, factory(t)) })
	}
}

func testReadAfterWrite(t *testing.T, n ns.Namespace) {
	defer n.Close()
	data := map[string]any{"confirmed": float64(100000)}
	written, err := n.Write("/wallet/balance", data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if written.Metadata.Version != 1 {
		t.Errorf("version = %d, want 1", written.Metadata.Version)
	}
	if !hexHash.MatchString(written.Metadata.Hash) {
		t.Errorf("hash %q is not 64 lowercase hex chars", written.Metadata.Hash)
	}
	got, err := n.Read("/wallet/balance")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got == nil {
		t.Fatal("Read returned absent after write")
	}
	if !scroll.DeepEqual(got.Data, data) {
		t.Errorf("data = %#v, want %#v", got.Data, data)
	}
	if got.Metadata.Version != written.Metadata.Version {
		t.Errorf("read version = %d, written %d", got.Metadata.Version, written.Metadata.Version)
	}
	if got.Key != "/wallet/balance" {
		t.Errorf("key = %q", got.Key)
	}
}

func testMonotoneVersion(t *testing.T, n ns.Namespace) {
	defer n.Close()
	for i := 1; i <= 5; i++ {
		sc, err := n.Write("/counter", map[string]any{"i": float64(i)})
		if err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		if sc.Metadata.Version != i {
			t.Fatalf("version = %d, want %d", sc.Metadata.Version, i)
		}
	}
}

func testCreatedAtStable(t *testing.T, n ns.Namespace) {
	defer n.Close()
	first, err := n.Write("/stable", map[string]any{"v": float64(1)})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if first.Metadata.CreatedAt == nil {
		t.Fatal("createdAt not set on first write")
	}
	want := *first.Metadata.CreatedAt
	time.Sleep(2 * time.Millisecond)
	if _, err := n.Write("/stable", map[string]any{"v": float64(2)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := n.Read("/stable")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Metadata.CreatedAt == nil || *got.Metadata.CreatedAt != want {
		t.Errorf("createdAt = %v, want %d", got.Metadata.CreatedAt, want)
	}
	if got.Metadata.UpdatedAt == nil {
		t.Error("updatedAt not set")
	}
}

func testAbsent(t *testing.T, n ns.Namespace) {
	defer n.Close()
	sc, err := n.Read("/never/written")
	if err != nil {
		t.Fatalf("Read of absent path errored: %v", err)
	}
	if sc != nil {
		t.Errorf("Read of absent path = %#v, want nil", sc)
	}
}

func testList(t *testing.T, n ns.Namespace) {
	defer n.Close()
	for _, p := range []string{"/a/x", "/a/y/z", "/b/x"} {
		if _, err := n.Write(p, map[string]any{"p": p}); err != nil {
			t.Fatalf("Write %s: %v", p, err)
		}
	}
	keys, err := n.List("/a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"/a/x", "/a/y/z"}
	if len(keys) != len(want) {
		t.Fatalf("List = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
	all, err := n.List("/")
	if err != nil {
		t.Fatalf("List /: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List / returned %d keys, want 3", len(all))
	}
	empty, err := n.List("/c")
	if err != nil {
		t.Fatalf("List of empty prefix errored: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List /c = %v, want empty", empty)
	}
}

func testSegmentBoundary(t *testing.T, n ns.Namespace) {
	defer n.Close()
	for _, p := range []string{"/foo", "/foo/bar", "/foobar"} {
		if _, err := n.Write(p, map[string]any{}); err != nil {
			t.Fatalf("Write %s: %v", p, err)
		}
	}
	keys, err := n.List("/foo")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen["/foo"] || !seen["/foo/bar"] {
		t.Errorf("List /foo = %v, want /foo and /foo/bar", keys)
	}
	if seen["/foobar"] {
		t.Errorf("List /foo leaked /foobar: %v", keys)
	}
}

func testWatchDelivery(t *testing.T, n ns.Namespace) {
	defer n.Close()
	sub, err := n.Watch("/inbox/**")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Cancel()

	if _, err := n.Write("/inbox/msg1", map[string]any{"n": float64(1)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := n.Write("/outbox/msg1", map[string]any{"n": float64(2)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := n.Write("/inbox/deep/msg2", map[string]any{"n": float64(3)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := collectKeys(t, sub, 2)
	if got[0] != "/inbox/msg1" || got[1] != "/inbox/deep/msg2" {
		t.Errorf("events = %v", got)
	}
}

func testWatchPatterns(t *testing.T, n ns.Namespace) {
	defer n.Close()
	single, err := n.Watch("/a/*")
	if err != nil {
		t.Fatalf("Watch /a/*: %v", err)
	}
	defer single.Cancel()
	exact, err := n.Watch("/a/x")
	if err != nil {
		t.Fatalf("Watch /a/x: %v", err)
	}
	defer exact.Cancel()

	if _, err := n.Write("/a/x", map[string]any{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := n.Write("/a/x/y", map[string]any{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := n.Write("/a/z", map[string]any{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	singleKeys := collectKeys(t, single, 2)
	if singleKeys[0] != "/a/x" || singleKeys[1] != "/a/z" {
		t.Errorf("/a/* events = %v, want [/a/x /a/z]", singleKeys)
	}
	exactKeys := collectKeys(t, exact, 1)
	if exactKeys[0] != "/a/x" {
		t.Errorf("/a/x events = %v, want [/a/x]", exactKeys)
	}
}

func testClosedTerminal(t *testing.T, n ns.Namespace) {
	if _, err := n.Write("/x", map[string]any{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := n.Read("/x"); !ns.IsCode(err, ns.CodeClosed) {
		t.Errorf("Read after close: err = %v, want closed", err)
	}
	if _, err := n.Write("/x", map[string]any{}); !ns.IsCode(err, ns.CodeClosed) {
		t.Errorf("Write after close: err = %v, want closed", err)
	}
	if _, err := n.List("/"); !ns.IsCode(err, ns.CodeClosed) {
		t.Errorf("List after close: err = %v, want closed", err)
	}
	if _, err := n.Watch("/**"); !ns.IsCode(err, ns.CodeClosed) {
		t.Errorf("Watch after close: err = %v, want closed", err)
	}
}

func testInvalidPaths(t *testing.T, n ns.Namespace) {
	defer n.Close()
	bad := []string{
		"",
		"foo",
		"/..",
		"/foo/..",
		"/foo/./bar",
		"//double",
		"/trailing/",
		"/spa ce",
		"/unié",
		" /lead",
	}
	for _, p := range bad {
		if _, err := n.Read(p); !ns.IsCode(err, ns.CodeInvalidPath) {
			t.Errorf("Read(%q): err = %v, want invalid_path", p, err)
		}
		if _, err := n.Write(p, map[string]any{}); !ns.IsCode(err, ns.CodeInvalidPath) {
			t.Errorf("Write(%q): err = %v, want invalid_path", p, err)
		}
	}
	if _, err := n.Watch("/a/*/b"); !ns.IsCode(err, ns.CodeInvalidPath) {
		t.Errorf("Watch with interior wildcard: err = %v, want invalid_path", err)
	}
}

func testTombstone(t *testing.T, n ns.Namespace) {
	defer n.Close()
	if _, err := n.Write("/doomed", map[string]any{"v": float64(1)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	tomb := &scroll.Scroll{Key: "/doomed", Data: map[string]any{}}
	tomb.Metadata.Deleted = true
	if _, err := n.WriteScroll(tomb); err != nil {
		t.Fatalf("WriteScroll: %v", err)
	}
	got, err := n.Read("/doomed")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got == nil || !got.Metadata.Deleted {
		t.Errorf("tombstone not readable: %#v", got)
	}
	keys, err := n.List("/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, k := range keys {
		if k == "/doomed" {
			found = true
		}
	}
	if !found {
		t.Errorf("tombstoned key missing from List: %v", keys)
	}
}

// collectKeys receives want events from sub, failing the test on a
// stall.
func collectKeys(t *testing.T, sub *ns.Subscription, want int) []string {
	t.Helper()
	var keys []string
	timeout := time.After(2 * time.Second)
	for len(keys) < want {
		select {
		case sc, ok := <-sub.Scrolls():
			if !ok {
				t.Fatalf("subscription closed after %d of %d events", len(keys), want)
			}
			keys = append(keys, sc.Key)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(keys), want)
		}
	}
	return keys
}
