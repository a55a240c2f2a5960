package store

import "testing"

func TestToJSONFromJSONIdentity(t *testing.T) {
	s := New()
	attrs := Attributes{SystemTags: []SystemTag{LLMRead}, ContentTags: []string{"note"}, ZIndex: 2}
	s.Set("text", TextValue("hello"), &attrs)
	s.Set("obj", JSONValue{Data: map[string]any{"a": float64(1)}}, nil)
	s.Set("doc", DocumentValue{Text: "draft"}, nil)

	data, err := s.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	restored := New()
	if err := restored.FromJSON(data); err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	before := s.GetAll()
	after := restored.GetAll()
	if len(before) != len(after) {
		t.Fatalf("entry count mismatch: %d vs %d", len(before), len(after))
	}
	for k, e := range before {
		re, ok := after[k]
		if !ok {
			t.Fatalf("missing key %q after round trip", k)
		}
		if re.Value.String() != e.Value.String() {
			t.Fatalf("key %q value mismatch: %q vs %q", k, re.Value.String(), e.Value.String())
		}
		if !re.Attributes.Equal(e.Attributes) {
			t.Fatalf("key %q attributes mismatch: %+v vs %+v", k, re.Attributes, e.Attributes)
		}
	}
}

func TestFromJSONSkipsReservedKeys(t *testing.T) {
	s := New()
	err := s.FromJSON(`{"$date": {"type":"text","value":"x","attributes":{"systemTags":[],"contentTags":[],"zIndex":0,"readonly":false,"template":false},"revision":1,"updatedAt":"2026-01-01T00:00:00Z"}}`)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if s.Has("$date") == false {
		t.Fatalf("expected builtin $date to still resolve")
	}
	v, _ := s.Get("$date")
	if v.String() == "x" {
		t.Fatalf("reserved key must not be overridden by imported snapshot")
	}
}

func TestFromJSONPreservesMaxRevision(t *testing.T) {
	s := New()
	err := s.FromJSON(`{
		"a": {"type":"text","value":"1","attributes":{"systemTags":[],"contentTags":[],"zIndex":0,"readonly":false,"template":false},"revision":3,"updatedAt":"2026-01-01T00:00:00Z"},
		"b": {"type":"text","value":"2","attributes":{"systemTags":[],"contentTags":[],"zIndex":0,"readonly":false,"template":false},"revision":7,"updatedAt":"2026-01-01T00:00:00Z"}
	}`)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if s.Revision() != 7 {
		t.Fatalf("Revision() = %d, want 7", s.Revision())
	}
}
