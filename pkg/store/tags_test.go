package store

import "testing"

func TestAddTagAndGetTagged(t *testing.T) {
	s := New()
	s.Set("a", TextValue("1"), nil)
	s.Set("b", TextValue("2"), nil)

	if err := s.AddTag("a", "favorite"); err != nil {
		t.Fatalf("AddTag: %v", err)
	}
	if err := s.AddTag("b", "favorite"); err != nil {
		t.Fatalf("AddTag: %v", err)
	}

	tagged := s.GetTagged("favorite")
	if len(tagged) != 2 {
		t.Fatalf("expected 2 tagged keys, got %v", tagged)
	}
}

func TestAddTagIsIdempotent(t *testing.T) {
	s := New()
	s.Set("a", TextValue("1"), nil)
	s.AddTag("a", "x")
	s.AddTag("a", "x")

	tags, _ := s.GetTags("a")
	if len(tags) != 1 {
		t.Fatalf("expected tag added only once, got %v", tags)
	}
}

func TestRemoveTag(t *testing.T) {
	s := New()
	s.Set("a", TextValue("1"), nil)
	s.AddTag("a", "x")
	if err := s.RemoveTag("a", "x"); err != nil {
		t.Fatalf("RemoveTag: %v", err)
	}
	tags, _ := s.GetTags("a")
	if len(tags) != 0 {
		t.Fatalf("expected tag removed, got %v", tags)
	}
}

func TestGetAllTagsUnion(t *testing.T) {
	s := New()
	s.Set("a", TextValue("1"), nil)
	s.Set("b", TextValue("2"), nil)
	s.AddTag("a", "x")
	s.AddTag("b", "y")

	all := s.GetAllTags()
	if len(all) != 2 {
		t.Fatalf("expected 2 distinct tags, got %v", all)
	}
}
