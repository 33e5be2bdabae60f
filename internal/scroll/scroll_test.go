package scroll

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{
		"zeta":  float64(1),
		"alpha": map[string]any{"b": float64(2), "a": float64(1)},
	})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	want := `{"alpha":{"a":1,"b":2},"zeta":1}`
	if string(got) != want {
		t.Errorf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalJSONNoHTMLEscaping(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{"s": "<a> & </a>"})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if string(got) != `{"s":"<a> & </a>"}` {
		t.Errorf("canonical = %s", got)
	}
}

func TestComputeHashDefinition(t *testing.T) {
	s := &Scroll{
		Key:  "/wallet/balance",
		Type: "wallet/balance@v1",
		Data: map[string]any{"confirmed": float64(100000)},
	}
	got, err := s.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	canon, _ := CanonicalJSON(s.Data)
	h := sha256.New()
	h.Write([]byte(s.Key))
	h.Write([]byte(s.Type))
	h.Write(canon)
	want := hex.EncodeToString(h.Sum(nil))
	if got != want {
		t.Errorf("hash = %s, want %s", got, want)
	}
	if len(got) != 64 {
		t.Errorf("hash length = %d", len(got))
	}
}

func TestHashIgnoresKeyOrder(t *testing.T) {
	a := &Scroll{Key: "/k", Data: map[string]any{"x": float64(1), "y": float64(2)}}
	b := &Scroll{Key: "/k", Data: map[string]any{"y": float64(2), "x": float64(1)}}
	ha, _ := a.ComputeHash()
	hb, _ := b.ComputeHash()
	if ha != hb {
		t.Errorf("hashes differ for equal mappings: %s vs %s", ha, hb)
	}
}

func TestMetadataExtensionsRoundTrip(t *testing.T) {
	created := int64(1730000000000)
	m := Metadata{
		CreatedAt: &created,
		Version:   3,
		Hash:      "abc",
		Tense:     TensePresent,
		Kingdom:   "finance",
		Extensions: map[string]any{
			"priority": float64(5),
			"origin":   "sync",
		},
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// Extensions are spread at the top level.
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		t.Fatalf("Unmarshal flat: %v", err)
	}
	if flat["priority"] != float64(5) {
		t.Errorf("priority not spread: %v", flat)
	}
	if _, ok := flat["extensions"]; ok {
		t.Error("extensions key leaked into serialized form")
	}
	if flat["tense"] != "present" {
		t.Errorf("tense = %v", flat["tense"])
	}

	var back Metadata
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Version != 3 || back.Kingdom != "finance" || back.Tense != TensePresent {
		t.Errorf("known fields lost: %+v", back)
	}
	if back.CreatedAt == nil || *back.CreatedAt != created {
		t.Errorf("createdAt = %v", back.CreatedAt)
	}
	if back.Extensions["priority"] != float64(5) || back.Extensions["origin"] != "sync" {
		t.Errorf("extensions = %v", back.Extensions)
	}
	// Known keys must never land in extensions.
	if _, ok := back.Extensions["version"]; ok {
		t.Error("version treated as extension")
	}
}

func TestMetadataOmitsAbsentFields(t *testing.T) {
	raw, err := json.Marshal(Metadata{Version: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var flat map[string]any
	_ = json.Unmarshal(raw, &flat)
	if len(flat) != 1 {
		t.Errorf("serialized = %s, want only version", raw)
	}
}

func TestStampFirstWrite(t *testing.T) {
	s, err := Stamp(nil, &Scroll{Key: "/k", Data: map[string]any{"v": float64(1)}}, 42)
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	if s.Metadata.Version != 1 {
		t.Errorf("version = %d", s.Metadata.Version)
	}
	if s.Metadata.CreatedAt == nil || *s.Metadata.CreatedAt != 42 {
		t.Errorf("createdAt = %v", s.Metadata.CreatedAt)
	}
	if s.Metadata.UpdatedAt == nil || *s.Metadata.UpdatedAt != 42 {
		t.Errorf("updatedAt = %v", s.Metadata.UpdatedAt)
	}
}

func TestStampIgnoresCallerAuthority(t *testing.T) {
	in := &Scroll{Key: "/k", Data: map[string]any{"v": float64(1)}}
	in.Metadata.Version = 99
	in.Metadata.Hash = "forged"
	prior, _ := Stamp(nil, &Scroll{Key: "/k", Data: map[string]any{}}, 1)
	s, err := Stamp(prior, in, 2)
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	if s.Metadata.Version != 2 {
		t.Errorf("version = %d, want 2", s.Metadata.Version)
	}
	if s.Metadata.Hash == "forged" {
		t.Error("caller hash trusted")
	}
}

func TestStampHonorsCreatedAtOnlyForFirstWrite(t *testing.T) {
	supplied := int64(7)
	in := &Scroll{Key: "/k", Data: map[string]any{}}
	in.Metadata.CreatedAt = &supplied
	first, _ := Stamp(nil, in, 100)
	if *first.Metadata.CreatedAt != 7 {
		t.Errorf("first write dropped caller createdAt: %d", *first.Metadata.CreatedAt)
	}

	in2 := &Scroll{Key: "/k", Data: map[string]any{}}
	other := int64(9)
	in2.Metadata.CreatedAt = &other
	second, _ := Stamp(first, in2, 200)
	if *second.Metadata.CreatedAt != 7 {
		t.Errorf("prior createdAt lost: %d", *second.Metadata.CreatedAt)
	}
}

func TestDeepEqualAndCopy(t *testing.T) {
	a := map[string]any{
		"n":    float64(1),
		"list": []any{float64(1), "two", nil},
		"m":    map[string]any{"x": true},
	}
	b := DeepCopy(a).(map[string]any)
	if !DeepEqual(a, b) {
		t.Fatal("copy not equal")
	}
	b["m"].(map[string]any)["x"] = false
	if DeepEqual(a, b) {
		t.Fatal("copy shares structure with original")
	}
	if !DeepEqual(int(3), float64(3)) {
		t.Error("numeric cross-type equality failed")
	}
	if DeepEqual([]any{float64(1)}, []any{float64(2)}) {
		t.Error("unequal lists compared equal")
	}
}
