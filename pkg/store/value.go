package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind is the value-kind tag of spec §3. Exactly one kind applies to an
// entry at a time; it is modeled as a discriminated union rather than a
// bag of optional fields, per spec §9's design note.
type Kind string

const (
	KindText     Kind = "text"
	KindJSON     Kind = "json"
	KindImage    Kind = "image"
	KindFile     Kind = "file"
	KindDocument Kind = "document"
)

// Value is the payload carried by an entry. Every concrete value type below
// implements it; String renders the value the way template expansion and
// prompt derivation both want it ("String(get(name))" per spec §4.1).
type Value interface {
	Kind() Kind
	String() string
}

// TextValue is a UTF-8 string value.
type TextValue string

func (TextValue) Kind() Kind      { return KindText }
func (v TextValue) String() string { return string(v) }

// JSONValue is any JSON-encodable structure, kept as already-decoded Go
// data (map[string]any, []any, scalars) so callers can inspect it without
// re-parsing.
type JSONValue struct {
	Data any
}

func (JSONValue) Kind() Kind { return KindJSON }

func (v JSONValue) String() string {
	b, err := json.Marshal(v.Data)
	if err != nil {
		return "null"
	}
	return string(b)
}

// ParseJSONValue parses raw JSON text into a JSONValue, failing with
// mcerr.InvalidValue semantics the caller is expected to wrap.
func ParseJSONValue(raw string) (JSONValue, error) {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return JSONValue{}, fmt.Errorf("invalid json: %w", err)
	}
	return JSONValue{Data: data}, nil
}

// BinaryValue is opaque binary content for image/file kinds, stored
// base64-encoded per spec §3. ContentType travels on the entry's
// Attributes, not here, but is required to reconstruct a data URL.
type BinaryValue struct {
	kind   Kind // KindImage or KindFile
	Base64 string
}

// NewBinaryValue base64-encodes raw bytes for storage as an image/file.
func NewBinaryValue(kind Kind, raw []byte) BinaryValue {
	return BinaryValue{kind: kind, Base64: base64.StdEncoding.EncodeToString(raw)}
}

// BinaryValueFromBase64 wraps already-encoded content (e.g. from JSON
// import, where the base64 text is already on the wire).
func BinaryValueFromBase64(kind Kind, b64 string) BinaryValue {
	return BinaryValue{kind: kind, Base64: b64}
}

func (v BinaryValue) Kind() Kind { return v.kind }

func (v BinaryValue) String() string { return v.Base64 }

// Decode returns the raw bytes behind the base64 payload.
func (v BinaryValue) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(v.Base64)
}

// valuesEqual reports whether a and b carry the same kind and rendered
// content. Store.Set uses this to detect a no-op write (spec §8: "no
// notification on a no-op set that produced no change").
func valuesEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Kind() == b.Kind() && a.String() == b.String()
}

// DocumentValue is a collaboratively editable text sequence, materialized
// from the replicated sequence CRDT in pkg/rga. Reads return the current
// materialization (String()). Store.Set stores the new text as given;
// pkg/cloud and internal/authority turn it into sequence ops by diffing
// against their rga.Doc (see DiffToOps in pkg/rga).
type DocumentValue struct {
	Text string
}

func (DocumentValue) Kind() Kind        { return KindDocument }
func (v DocumentValue) String() string { return v.Text }
