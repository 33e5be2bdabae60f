package kernel

import (
	"testing"
	"time"

	"github.com/obiverse/nine-s/internal/memns"
	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/ns/nstest"
)

func TestContractWithRootMount(t *testing.T) {
	nstest.Run(t, func(t *testing.T) ns.Namespace {
		k := New()
		if err := k.Mount("/", memns.New()); err != nil {
			t.Fatalf("Mount: %v", err)
		}
		return k
	})
}

func TestLongestPrefixRouting(t *testing.T) {
	k := New()
	defer k.Close()
	a := memns.New()
	b := memns.New()
	if err := k.Mount("/", a); err != nil {
		t.Fatalf("Mount /: %v", err)
	}
	if err := k.Mount("/a/b", b); err != nil {
		t.Fatalf("Mount /a/b: %v", err)
	}

	if _, err := k.Write("/a/b/x", map[string]any{"v": float64(1)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// The write landed in B under the translated local path.
	local, err := b.Read("/x")
	if err != nil {
		t.Fatalf("b.Read: %v", err)
	}
	if local == nil || local.Key != "/x" {
		t.Errorf("b holds %#v, want key /x", local)
	}
	if sc, _ := a.Read("/a/b/x"); sc != nil {
		t.Error("write leaked into the root mount")
	}
}

func TestPathRoundTrip(t *testing.T) {
	k := New()
	defer k.Close()
	if err := k.Mount("/wallet", memns.New()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	written, err := k.Write("/wallet/balance", map[string]any{"v": float64(1)})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if written.Key != "/wallet/balance" {
		t.Errorf("written key = %q", written.Key)
	}
	got, err := k.Read("/wallet/balance")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Key != "/wallet/balance" {
		t.Errorf("read key = %q", got.Key)
	}
	keys, err := k.List("/wallet")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "/wallet/balance" {
		t.Errorf("List = %v", keys)
	}
}

func TestMountPointPathTranslation(t *testing.T) {
	k := New()
	defer k.Close()
	m := memns.New()
	if err := k.Mount("/data", m); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	// Addressing the mount point itself maps to the backend root.
	if _, err := k.Write("/data", map[string]any{"root": true}); err != nil {
		t.Fatalf("Write at mount point: %v", err)
	}
	local, err := m.Read("/")
	if err != nil {
		t.Fatalf("m.Read: %v", err)
	}
	if local == nil {
		t.Fatal("mount-point write did not land at backend root")
	}
	got, err := k.Read("/data")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Key != "/data" {
		t.Errorf("restored key = %q, want /data", got.Key)
	}
	keys, err := k.List("/data")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "/data" {
		t.Errorf("List = %v, want [/data]", keys)
	}
}

func TestSegmentBoundaryRouting(t *testing.T) {
	k := New()
	defer k.Close()
	foo := memns.New()
	root := memns.New()
	if err := k.Mount("/", root); err != nil {
		t.Fatalf("Mount /: %v", err)
	}
	if err := k.Mount("/foo", foo); err != nil {
		t.Fatalf("Mount /foo: %v", err)
	}

	if _, err := k.Write("/foobar", map[string]any{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sc, _ := foo.Read("/bar"); sc != nil {
		t.Error("/foobar captured by /foo mount")
	}
	if sc, _ := root.Read("/foobar"); sc == nil {
		t.Error("/foobar missing from root mount")
	}
}

func TestScenarioTwoMounts(t *testing.T) {
	k := New()
	defer k.Close()
	if err := k.Mount("/wallet", memns.New()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if err := k.Mount("/vault", memns.New()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	if _, err := k.Write("/wallet/x", map[string]any{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := k.Read("/wallet/x")
	if err != nil || got == nil || got.Key != "/wallet/x" {
		t.Errorf("Read /wallet/x = (%#v, %v)", got, err)
	}
	other, err := k.Read("/vault/x")
	if err != nil {
		t.Fatalf("Read /vault/x: %v", err)
	}
	if other != nil {
		t.Errorf("vault mount unexpectedly holds %#v", other)
	}
}

func TestNoMountIsNotFound(t *testing.T) {
	k := New()
	defer k.Close()
	if err := k.Mount("/only", memns.New()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if _, err := k.Read("/elsewhere/x"); !ns.IsCode(err, ns.CodeNotFound) {
		t.Errorf("err = %v, want not_found", err)
	}
}

func TestUnmountIsolation(t *testing.T) {
	k := New()
	defer k.Close()
	if err := k.Mount("/gone", memns.New()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if _, err := k.Write("/gone/x", map[string]any{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := k.Unmount("/gone"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if _, err := k.Read("/gone/x"); !ns.IsCode(err, ns.CodeNotFound) {
		t.Errorf("err = %v, want not_found", err)
	}
	if err := k.Unmount("/gone"); !ns.IsCode(err, ns.CodeNotFound) {
		t.Errorf("double unmount err = %v, want not_found", err)
	}
}

func TestWatchRestoresKeys(t *testing.T) {
	k := New()
	defer k.Close()
	if err := k.Mount("/wallet", memns.New()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	sub, err := k.Watch("/wallet/**")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer sub.Cancel()

	if _, err := k.Write("/wallet/x", map[string]any{"v": float64(1)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case sc := <-sub.Scrolls():
		if sc.Key != "/wallet/x" {
			t.Errorf("emitted key = %q, want /wallet/x", sc.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestCloseClosesMounts(t *testing.T) {
	k := New()
	m := memns.New()
	if err := k.Mount("/", m); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Read("/x"); !ns.IsCode(err, ns.CodeClosed) {
		t.Errorf("mounted namespace not closed: %v", err)
	}
	if _, err := k.Read("/x"); !ns.IsCode(err, ns.CodeClosed) {
		t.Errorf("kernel not terminal after close: %v", err)
	}
}

func TestNormalizeMount(t *testing.T) {
	cases := map[string]string{
		"":        "/",
		"/":       "/",
		"a/b":     "/a/b",
		"/a/b/":   "/a/b",
		"/a/b///": "/a/b",
	}
	for in, want := range cases {
		if got := NormalizeMount(in); got != want {
			t.Errorf("NormalizeMount(%q) = %q, want %q", in, got, want)
		}
	}
}
