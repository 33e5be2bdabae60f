package patch

import (
	"errors"
	"testing"

	"github.com/obiverse/nine-s/internal/scroll"
)

func mkScroll(t *testing.T, key string, data map[string]any) *scroll.Scroll {
	t.Helper()
	s, err := scroll.Stamp(nil, &scroll.Scroll{Key: key, Data: data}, 1000)
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	return s
}

func TestDiffGenesis(t *testing.T) {
	next := mkScroll(t, "/k", map[string]any{"v": float64(1)})
	p := Diff(nil, next, 1000, 1)
	if len(p.Ops) != 1 || p.Ops[0].Kind != OpReplace || p.Ops[0].Path != "" {
		t.Fatalf("genesis ops = %+v", p.Ops)
	}
	if p.Parent != "" {
		t.Errorf("genesis parent = %q", p.Parent)
	}
	if p.Seq != 1 {
		t.Errorf("seq = %d", p.Seq)
	}
}

func TestDiffApplyRoundTrip(t *testing.T) {
	cases := []struct {
		name          string
		prior, target map[string]any
	}{
		{"add key", map[string]any{"a": float64(1)}, map[string]any{"a": float64(1), "b": float64(2)}},
		{"remove key", map[string]any{"a": float64(1), "b": float64(2)}, map[string]any{"a": float64(1)}},
		{"replace primitive", map[string]any{"a": float64(1)}, map[string]any{"a": "one"}},
		{
			"nested recursion",
			map[string]any{"m": map[string]any{"x": float64(1), "y": float64(2)}},
			map[string]any{"m": map[string]any{"x": float64(9), "z": float64(3)}},
		},
		{
			"list replaced whole",
			map[string]any{"l": []any{float64(1), float64(2)}},
			map[string]any{"l": []any{float64(2), float64(1), float64(3)}},
		},
		{
			"type change map to list",
			map[string]any{"v": map[string]any{"a": float64(1)}},
			map[string]any{"v": []any{float64(1)}},
		},
		{"no change", map[string]any{"a": float64(1)}, map[string]any{"a": float64(1)}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			prior := mkScroll(t, "/k", c.prior)
			target, err := scroll.Stamp(prior, &scroll.Scroll{Key: "/k", Data: c.target}, 2000)
			if err != nil {
				t.Fatalf("Stamp: %v", err)
			}
			p := Diff(prior, target, 2000, 2)
			if !Verify(prior, p) {
				t.Error("Verify failed on freshly diffed patch")
			}
			applied, err := Apply(prior, p)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !scroll.DeepEqual(applied.Data, c.target) {
				t.Errorf("round trip = %#v, want %#v", applied.Data, c.target)
			}
			if applied.Metadata.Version != 2 {
				t.Errorf("version = %d, want seq 2", applied.Metadata.Version)
			}
		})
	}
}

func TestDiffGenesisRoundTrip(t *testing.T) {
	target := mkScroll(t, "/k", map[string]any{"v": float64(7), "m": map[string]any{"x": "y"}})
	p := Diff(nil, target, 1000, 1)
	empty := &scroll.Scroll{Key: "/k", Data: map[string]any{}}
	applied, err := Apply(empty, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !scroll.DeepEqual(applied.Data, target.Data) {
		t.Errorf("round trip = %#v", applied.Data)
	}
}

func TestApplyIsPure(t *testing.T) {
	prior := mkScroll(t, "/k", map[string]any{"m": map[string]any{"x": float64(1)}})
	p := &Patch{Key: "/k", Seq: 2, Ops: []Op{
		{Kind: OpReplace, Path: "/m/x", Value: float64(9)},
	}}
	a, err := Apply(prior, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	b, err := Apply(prior, p)
	if err != nil {
		t.Fatalf("Apply again: %v", err)
	}
	if !scroll.DeepEqual(a.Data, b.Data) {
		t.Error("Apply is not deterministic")
	}
	if prior.Data["m"].(map[string]any)["x"] != float64(1) {
		t.Error("Apply mutated its input")
	}
}

func TestApplyOps(t *testing.T) {
	base := map[string]any{
		"m": map[string]any{"x": float64(1)},
		"l": []any{float64(1), float64(2)},
	}

	run := func(t *testing.T, ops []Op) (*scroll.Scroll, error) {
		t.Helper()
		prior := mkScroll(t, "/k", base)
		return Apply(prior, &Patch{Key: "/k", Seq: 2, Ops: ops})
	}

	t.Run("add creates intermediate mappings", func(t *testing.T) {
		out, err := run(t, []Op{{Kind: OpAdd, Path: "/a/b/c", Value: float64(5)}})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		got := out.Data["a"].(map[string]any)["b"].(map[string]any)["c"]
		if got != float64(5) {
			t.Errorf("value = %v", got)
		}
	})
	t.Run("array append with dash", func(t *testing.T) {
		out, err := run(t, []Op{{Kind: OpAdd, Path: "/l/-", Value: float64(3)}})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		l := out.Data["l"].([]any)
		if len(l) != 3 || l[2] != float64(3) {
			t.Errorf("list = %v", l)
		}
	})
	t.Run("array insert", func(t *testing.T) {
		out, err := run(t, []Op{{Kind: OpAdd, Path: "/l/0", Value: float64(0)}})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		l := out.Data["l"].([]any)
		if len(l) != 3 || l[0] != float64(0) || l[1] != float64(1) {
			t.Errorf("list = %v", l)
		}
	})
	t.Run("remove missing path fails", func(t *testing.T) {
		_, err := run(t, []Op{{Kind: OpRemove, Path: "/nope"}})
		if !errors.Is(err, ErrPathNotFound) {
			t.Errorf("err = %v, want path not found", err)
		}
	})
	t.Run("replace missing path fails", func(t *testing.T) {
		_, err := run(t, []Op{{Kind: OpReplace, Path: "/nope", Value: float64(1)}})
		if !errors.Is(err, ErrPathNotFound) {
			t.Errorf("err = %v, want path not found", err)
		}
	})
	t.Run("move", func(t *testing.T) {
		out, err := run(t, []Op{{Kind: OpMove, From: "/m/x", Path: "/y"}})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if out.Data["y"] != float64(1) {
			t.Errorf("moved value = %v", out.Data["y"])
		}
		if _, ok := out.Data["m"].(map[string]any)["x"]; ok {
			t.Error("source survived move")
		}
	})
	t.Run("copy", func(t *testing.T) {
		out, err := run(t, []Op{{Kind: OpCopy, From: "/m", Path: "/m2"}})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if !scroll.DeepEqual(out.Data["m"], out.Data["m2"]) {
			t.Error("copy differs from source")
		}
	})
	t.Run("test succeeds on equal", func(t *testing.T) {
		_, err := run(t, []Op{{Kind: OpTest, Path: "/m", Value: map[string]any{"x": float64(1)}}})
		if err != nil {
			t.Errorf("test op failed: %v", err)
		}
	})
	t.Run("test fails on unequal", func(t *testing.T) {
		_, err := run(t, []Op{{Kind: OpTest, Path: "/m/x", Value: float64(2)}})
		if !errors.Is(err, ErrTestFailed) {
			t.Errorf("err = %v, want test failed", err)
		}
	})
	t.Run("traversing through primitive fails", func(t *testing.T) {
		_, err := run(t, []Op{{Kind: OpReplace, Path: "/m/x/deep", Value: float64(1)}})
		if !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("err = %v, want type mismatch", err)
		}
	})
}

func TestVerifyChain(t *testing.T) {
	prior := mkScroll(t, "/k", map[string]any{"v": float64(1)})
	next, _ := scroll.Stamp(prior, &scroll.Scroll{Key: "/k", Data: map[string]any{"v": float64(2)}}, 2000)
	p := Diff(prior, next, 2000, 2)
	if !Verify(prior, p) {
		t.Error("Verify rejected matching parent")
	}
	stranger := mkScroll(t, "/k", map[string]any{"v": float64(99)})
	if Verify(stranger, p) {
		t.Error("Verify accepted mismatched parent")
	}
	if !Verify(nil, Diff(nil, next, 2000, 1)) {
		t.Error("Verify rejected genesis")
	}
}

func TestPointerEscaping(t *testing.T) {
	cases := []struct {
		raw    string
		tokens Pointer
	}{
		{"", Pointer{}},
		{"/a/b", Pointer{"a", "b"}},
		{"/a~1b", Pointer{"a/b"}},
		{"/a~0b", Pointer{"a~b"}},
		{"/~01", Pointer{"~1"}},
	}
	for _, c := range cases {
		got, err := ParsePointer(c.raw)
		if err != nil {
			t.Errorf("ParsePointer(%q): %v", c.raw, err)
			continue
		}
		if len(got) != len(c.tokens) {
			t.Errorf("ParsePointer(%q) = %v", c.raw, got)
			continue
		}
		for i := range got {
			if got[i] != c.tokens[i] {
				t.Errorf("ParsePointer(%q)[%d] = %q, want %q", c.raw, i, got[i], c.tokens[i])
			}
		}
		if got.String() != c.raw {
			t.Errorf("round trip of %q = %q", c.raw, got.String())
		}
	}
	for _, bad := range []string{"a/b", "/a~2b", "/a~"} {
		if _, err := ParsePointer(bad); !errors.Is(err, ErrInvalidPointer) {
			t.Errorf("ParsePointer(%q) = %v, want invalid pointer", bad, err)
		}
	}
}

func TestEscapedKeysRoundTripThroughDiff(t *testing.T) {
	prior := mkScroll(t, "/k", map[string]any{"a/b": float64(1), "c~d": float64(2)})
	target, _ := scroll.Stamp(prior, &scroll.Scroll{Key: "/k", Data: map[string]any{"a/b": float64(9), "c~d": float64(2)}}, 2000)
	p := Diff(prior, target, 2000, 2)
	applied, err := Apply(prior, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !scroll.DeepEqual(applied.Data, target.Data) {
		t.Errorf("escaped keys lost: %#v", applied.Data)
	}
}

func TestReplayLenientReplace(t *testing.T) {
	empty := &scroll.Scroll{Key: "/k", Data: map[string]any{}}
	p := &Patch{Key: "/k", Seq: 3, Ops: []Op{
		{Kind: OpReplace, Path: "/v", Value: float64(3)},
	}}
	if _, err := Apply(empty, p); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("strict apply err = %v, want path not found", err)
	}
	out, err := Replay(empty, p)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if out.Data["v"] != float64(3) {
		t.Errorf("replayed value = %v", out.Data["v"])
	}
}
