package store

import "testing"

func TestToMarkdownFromMarkdownIdentity(t *testing.T) {
	s := New()
	s.SetName("test-instance")
	attrs := Attributes{SystemTags: []SystemTag{SystemPrompt}, ContentTags: []string{"persona"}, ZIndex: 1}
	s.Set("bio", TextValue("A helpful agent."), &attrs)
	s.Set("config", JSONValue{Data: map[string]any{"temp": float64(0.7)}}, nil)

	md, err := s.ToMarkdown()
	if err != nil {
		t.Fatalf("ToMarkdown: %v", err)
	}

	restored := New()
	if err := restored.FromMarkdown(md, false); err != nil {
		t.Fatalf("FromMarkdown: %v", err)
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
		if re.Attributes.ZIndex != e.Attributes.ZIndex || e.Attributes.HasContentTag("persona") != re.Attributes.HasContentTag("persona") {
			t.Fatalf("key %q attributes mismatch: %+v vs %+v", k, re.Attributes, e.Attributes)
		}
	}
}

func TestFromMarkdownMergeLeavesUntouchedKeys(t *testing.T) {
	s := New()
	s.Set("kept", TextValue("still here"), nil)

	doc := "# MindCache s\n\n## added\n\n```meta\n{\"systemTags\":[],\"contentTags\":[],\"zIndex\":0,\"readonly\":false,\"template\":false}\n```\n\n```text\nnew value\n```\n\n"
	if err := s.FromMarkdown(doc, true); err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}

	if !s.Has("kept") {
		t.Fatalf("merge=true must not remove untouched keys")
	}
	v, err := s.Get("added")
	if err != nil || v.String() != "new value" {
		t.Fatalf("expected added key imported, got v=%v err=%v", v, err)
	}
}

func TestFromMarkdownReplaceRemovesUnlistedKeys(t *testing.T) {
	s := New()
	s.Set("gone", TextValue("x"), nil)

	doc := "# MindCache s\n\n## kept\n\n```meta\n{\"systemTags\":[],\"contentTags\":[],\"zIndex\":0,\"readonly\":false,\"template\":false}\n```\n\n```text\nstays\n```\n\n"
	if err := s.FromMarkdown(doc, false); err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}

	if s.Has("gone") {
		t.Fatalf("merge=false must remove keys absent from the document")
	}
	if !s.Has("kept") {
		t.Fatalf("expected kept key present")
	}
}
