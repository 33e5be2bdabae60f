// Package scroll defines the universal data envelope: a path-addressed,
// self-describing record with lifecycle, linguistic, and taxonomic
// metadata, hashed over a canonical JSON encoding.
package scroll

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Tense is the ordinal linguistic tense of a scroll.
type Tense string

// Tense values.
const (
	TensePast    Tense = "past"
	TensePresent Tense = "present"
	TenseFuture  Tense = "future"
)

// Valid reports whether t is one of the recognized tense values.
func (t Tense) Valid() bool {
	switch t {
	case TensePast, TensePresent, TenseFuture:
		return true
	}
	return false
}

// Metadata carries the lifecycle, temporal, linguistic, and taxonomic
// attributes of a scroll. Temporal fields are millisecond epochs and are
// optional (nil = unset). Unknown keys encountered during parsing land in
// Extensions; on serialization extensions are spread at the top level of
// the metadata object.
type Metadata struct {
	CreatedAt *int64
	UpdatedAt *int64
	SyncedAt  *int64
	ExpiresAt *int64

	Version int
	Hash    string
	Deleted bool

	Subject string
	Verb    string
	Object  string
	Tense   Tense

	Kingdom string
	Phylum  string
	Class   string

	Extensions map[string]any
}

// knownMetadataKeys are the reserved metadata field names. Anything else
// in a serialized metadata object is an extension.
var knownMetadataKeys = map[string]struct{}{
	"createdAt": {}, "updatedAt": {}, "syncedAt": {}, "expiresAt": {},
	"version": {}, "hash": {}, "deleted": {},
	"subject": {}, "verb": {}, "object": {}, "tense": {},
	"kingdom": {}, "phylum": {}, "class": {},
}

// MarshalJSON emits known fields only when present (version is always
// emitted) and spreads extension entries at the top level.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 8+len(m.Extensions))
	for k, v := range m.Extensions {
		if _, reserved := knownMetadataKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	putMillis := func(key string, v *int64) {
		if v != nil {
			out[key] = *v
		}
	}
	putMillis("createdAt", m.CreatedAt)
	putMillis("updatedAt", m.UpdatedAt)
	putMillis("syncedAt", m.SyncedAt)
	putMillis("expiresAt", m.ExpiresAt)
	out["version"] = m.Version
	if m.Hash != "" {
		out["hash"] = m.Hash
	}
	if m.Deleted {
		out["deleted"] = true
	}
	putStr := func(key, v string) {
		if v != "" {
			out[key] = v
		}
	}
	putStr("subject", m.Subject)
	putStr("verb", m.Verb)
	putStr("object", m.Object)
	putStr("tense", string(m.Tense))
	putStr("kingdom", m.Kingdom)
	putStr("phylum", m.Phylum)
	putStr("class", m.Class)
	return json.Marshal(out)
}

// UnmarshalJSON parses known fields and collects everything else into
// Extensions. Known keys are never duplicated into Extensions.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("scroll: metadata: %w", err)
	}
	*m = Metadata{}
	takeMillis := func(key string) *int64 {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		n, ok := asFloat(v)
		if !ok {
			return nil
		}
		ms := int64(n)
		return &ms
	}
	m.CreatedAt = takeMillis("createdAt")
	m.UpdatedAt = takeMillis("updatedAt")
	m.SyncedAt = takeMillis("syncedAt")
	m.ExpiresAt = takeMillis("expiresAt")
	if v, ok := asFloat(raw["version"]); ok {
		m.Version = int(v)
	}
	if s, ok := raw["hash"].(string); ok {
		m.Hash = s
	}
	if d, ok := raw["deleted"].(bool); ok {
		m.Deleted = d
	}
	takeStr := func(key string) string {
		s, _ := raw[key].(string)
		return s
	}
	m.Subject = takeStr("subject")
	m.Verb = takeStr("verb")
	m.Object = takeStr("object")
	m.Tense = Tense(takeStr("tense"))
	m.Kingdom = takeStr("kingdom")
	m.Phylum = takeStr("phylum")
	m.Class = takeStr("class")
	for k, v := range raw {
		if _, reserved := knownMetadataKeys[k]; reserved {
			continue
		}
		if m.Extensions == nil {
			m.Extensions = map[string]any{}
		}
		m.Extensions[k] = v
	}
	return nil
}

// Scroll is the immutable unit of storage: a path-addressed envelope of
// JSON-compatible data plus metadata. Writes never mutate a scroll in
// place; they produce new values.
type Scroll struct {
	Key      string         `json:"key"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	Metadata Metadata       `json:"metadata"`
}

// Clone returns a structurally independent copy of s.
func (s *Scroll) Clone() *Scroll {
	if s == nil {
		return nil
	}
	out := *s
	out.Data = CopyData(s.Data)
	if s.Metadata.Extensions != nil {
		out.Metadata.Extensions = DeepCopy(s.Metadata.Extensions).(map[string]any)
	}
	return &out
}

// WithKey returns a copy of s addressed at key.
func (s *Scroll) WithKey(key string) *Scroll {
	out := *s
	out.Key = key
	return &out
}

// ComputeHash returns the lowercase hex SHA-256 of the scroll content:
// UTF-8(key || type || canonical-json(data)).
func (s *Scroll) ComputeHash() (string, error) {
	data, err := CanonicalJSON(CopyData(s.Data))
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(s.Key))
	h.Write([]byte(s.Type))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Stamp builds the scroll that a successful write persists. The version
// counter and hash are always derived here, never trusted from input:
// version is prior+1 (or 1), createdAt survives from the prior scroll (a
// caller-supplied value is honored only when no prior exists), updatedAt
// is refreshed, and the content hash is recomputed. Caller-supplied type,
// linguistic/taxonomic hints, extensions, and the deleted flag are
// preserved. now is a millisecond epoch.
func Stamp(prior, next *Scroll, now int64) (*Scroll, error) {
	out := next.Clone()
	if prior != nil {
		out.Metadata.Version = prior.Metadata.Version + 1
		out.Metadata.CreatedAt = prior.Metadata.CreatedAt
	} else {
		out.Metadata.Version = 1
		if out.Metadata.CreatedAt == nil {
			created := now
			out.Metadata.CreatedAt = &created
		}
	}
	updated := now
	out.Metadata.UpdatedAt = &updated
	hash, err := out.ComputeHash()
	if err != nil {
		return nil, err
	}
	out.Metadata.Hash = hash
	return out, nil
}
