package store

import (
	"testing"

	"github.com/dh7/mindcache/pkg/mcerr"
)

func TestSetAndGetRoundTrip(t *testing.T) {
	s := New()
	if err := s.Set("greeting", TextValue("hello"), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get("greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.String() != "hello" {
		t.Fatalf("Get() = %q, want %q", v.String(), "hello")
	}
}

func TestSetRejectsReservedKey(t *testing.T) {
	s := New()
	err := s.Set("$date", TextValue("x"), nil)
	if !mcerr.Is(err, mcerr.InvalidKey) {
		t.Fatalf("expected InvalidKey, got %v", err)
	}
}

func TestSetRejectsEmptyKey(t *testing.T) {
	s := New()
	err := s.Set("", TextValue("x"), nil)
	if !mcerr.Is(err, mcerr.InvalidKey) {
		t.Fatalf("expected InvalidKey, got %v", err)
	}
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	s := New()
	_, err := s.Get("missing")
	if !mcerr.Is(err, mcerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSetPreservesAttributesWhenNilPassed(t *testing.T) {
	s := New()
	attrs := Attributes{ContentTags: []string{"note"}, ZIndex: 3}
	if err := s.Set("k", TextValue("v1"), &attrs); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("k", TextValue("v2"), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.GetAttributes("k")
	if err != nil {
		t.Fatalf("GetAttributes: %v", err)
	}
	if !got.HasContentTag("note") || got.ZIndex != 3 {
		t.Fatalf("attributes not preserved across attrs=nil write: %+v", got)
	}
}

func TestSetRejectsReadonlyAndLLMWrite(t *testing.T) {
	s := New()
	attrs := Attributes{Readonly: true, SystemTags: []SystemTag{LLMWrite}}
	err := s.Set("k", TextValue("v"), &attrs)
	if !mcerr.Is(err, mcerr.InvalidAttributes) {
		t.Fatalf("expected InvalidAttributes, got %v", err)
	}
}

func TestKindTransitionResetsContentType(t *testing.T) {
	s := New()
	attrs := Attributes{ContentType: "image/png"}
	if err := s.Set("k", NewBinaryValue(KindImage, []byte("x")), &attrs); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("k", TextValue("now text"), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, _ := s.GetAttributes("k")
	if got.ContentType != "" {
		t.Fatalf("expected contentType reset on kind transition, got %q", got.ContentType)
	}
}

func TestDeleteMissingKeyIsNotFound(t *testing.T) {
	s := New()
	err := s.Delete("missing")
	if !mcerr.Is(err, mcerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	s := New()
	s.Set("k", TextValue("v"), nil)
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Has("k") {
		t.Fatalf("expected key removed")
	}
}

func TestReservedKeysAlwaysExist(t *testing.T) {
	s := New()
	if !s.Has("$date") || !s.Has("$time") || !s.Has("$now") {
		t.Fatalf("expected builtin reserved keys to exist")
	}
}

func TestSubscribeDeliversOnSet(t *testing.T) {
	s := New()
	var got []Change
	unsub := s.Subscribe("k", func(c Change) { got = append(got, c) })
	defer unsub()

	s.Set("k", TextValue("v1"), nil)
	s.Set("other", TextValue("x"), nil) // should not notify "k" subscriber
	s.Set("k", TextValue("v2"), nil)

	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].Value.String() != "v1" || got[1].Value.String() != "v2" {
		t.Fatalf("unexpected notification payloads: %+v", got)
	}
}

func TestSubscribeToAllDeliversOnAnyKey(t *testing.T) {
	s := New()
	var keys []string
	unsub := s.SubscribeToAll(func(c Change) { keys = append(keys, c.Key) })
	defer unsub()

	s.Set("a", TextValue("1"), nil)
	s.Set("b", TextValue("2"), nil)

	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected wildcard notifications: %v", keys)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New()
	count := 0
	unsub := s.Subscribe("k", func(Change) { count++ })
	s.Set("k", TextValue("v1"), nil)
	unsub()
	s.Set("k", TextValue("v2"), nil)

	if count != 1 {
		t.Fatalf("expected exactly 1 delivery before unsubscribe, got %d", count)
	}
}

func TestSubscriberPanicDoesNotBlockOthers(t *testing.T) {
	s := New()
	secondCalled := false
	s.Subscribe("k", func(Change) { panic("boom") })
	s.Subscribe("k", func(Change) { secondCalled = true })

	s.Set("k", TextValue("v"), nil)

	if !secondCalled {
		t.Fatalf("expected second subscriber to run despite first panicking")
	}
}

func TestDeleteNotificationIsDistinctFromSet(t *testing.T) {
	s := New()
	var kinds []ChangeKind
	s.Subscribe("k", func(c Change) { kinds = append(kinds, c.Kind) })

	s.Set("k", TextValue("v"), nil)
	s.Delete("k")

	if len(kinds) != 2 || kinds[0] != ChangeSet || kinds[1] != ChangeDelete {
		t.Fatalf("expected [Set, Delete], got %v", kinds)
	}
}

func TestAttachEnforcesSingleOwner(t *testing.T) {
	s := New()
	ownerA := &struct{ id int }{1}
	ownerB := &struct{ id int }{2}

	if err := s.Attach(ownerA); err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	if err := s.Attach(ownerA); err != nil {
		t.Fatalf("re-Attach by same owner should succeed: %v", err)
	}
	if err := s.Attach(ownerB); !mcerr.Is(err, mcerr.Conflict) {
		t.Fatalf("expected Conflict attaching second owner, got %v", err)
	}

	s.Detach(ownerA)
	if err := s.Attach(ownerB); err != nil {
		t.Fatalf("Attach after Detach: %v", err)
	}
}

func TestApplyRemoteDoesNotTriggerOnLocalMutation(t *testing.T) {
	s := New()
	called := false
	s.OnLocalMutation(func(Change) { called = true })

	s.ApplyRemote(Change{Key: "k", Kind: ChangeSet, Value: TextValue("v"), Revision: 1})

	if called {
		t.Fatalf("ApplyRemote must not invoke onLocalMutation")
	}
	v, err := s.Get("k")
	if err != nil || v.String() != "v" {
		t.Fatalf("expected remote change applied, got v=%v err=%v", v, err)
	}
}

func TestSetInvokesOnLocalMutation(t *testing.T) {
	s := New()
	var gotKey string
	s.OnLocalMutation(func(c Change) { gotKey = c.Key })
	s.Set("k", TextValue("v"), nil)
	if gotKey != "k" {
		t.Fatalf("expected onLocalMutation called with key %q, got %q", "k", gotKey)
	}
}

func TestChangePreviousReflectsPriorEntry(t *testing.T) {
	s := New()
	var first, second, del Change
	s.OnLocalMutation(func(c Change) {
		switch c.Key {
		case "k":
			if first.Key == "" {
				first = c
			} else {
				second = c
			}
		case "gone":
			del = c
		}
	})

	s.Set("k", TextValue("v1"), nil)
	if first.Previous != nil {
		t.Fatalf("expected nil Previous on first write, got %+v", first.Previous)
	}

	s.Set("k", TextValue("v2"), nil)
	if second.Previous == nil || second.Previous.Value.String() != "v1" {
		t.Fatalf("expected Previous.Value %q, got %+v", "v1", second.Previous)
	}

	s.Set("gone", TextValue("bye"), nil)
	s.Delete("gone")
	if del.Previous == nil || del.Previous.Value.String() != "bye" {
		t.Fatalf("expected delete Previous.Value %q, got %+v", "bye", del.Previous)
	}
}

func TestNoOpSetDoesNotNotifyOrBumpRevision(t *testing.T) {
	s := New()
	notifications := 0
	s.OnLocalMutation(func(Change) { notifications++ })

	attrs := DefaultAttributes()
	if err := s.Set("k", TextValue("v1"), &attrs); err != nil {
		t.Fatalf("Set: %v", err)
	}
	before, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	revisionBefore := s.entries["k"].Revision
	if notifications != 1 {
		t.Fatalf("expected 1 notification after first set, got %d", notifications)
	}

	if err := s.Set("k", TextValue("v1"), &attrs); err != nil {
		t.Fatalf("Set (no-op): %v", err)
	}
	if notifications != 1 {
		t.Fatalf("expected no notification on no-op set, got %d total", notifications)
	}
	if s.entries["k"].Revision != revisionBefore {
		t.Fatalf("expected revision unchanged on no-op set, got %d want %d", s.entries["k"].Revision, revisionBefore)
	}
	after, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if before.String() != after.String() {
		t.Fatalf("value changed unexpectedly: %q -> %q", before, after)
	}
}

func TestNoOpSetAttributesDoesNotNotify(t *testing.T) {
	s := New()
	notifications := 0
	s.OnLocalMutation(func(Change) { notifications++ })

	attrs := DefaultAttributes()
	s.Set("k", TextValue("v1"), &attrs)
	if notifications != 1 {
		t.Fatalf("expected 1 notification after set, got %d", notifications)
	}

	if err := s.SetAttributes("k", attrs); err != nil {
		t.Fatalf("SetAttributes (no-op): %v", err)
	}
	if notifications != 1 {
		t.Fatalf("expected no notification on no-op SetAttributes, got %d total", notifications)
	}

	attrs.ZIndex = 5
	if err := s.SetAttributes("k", attrs); err != nil {
		t.Fatalf("SetAttributes (real change): %v", err)
	}
	if notifications != 2 {
		t.Fatalf("expected a notification on a real attribute change, got %d total", notifications)
	}
}

func TestGetAllSkipsReservedAndTemplateExpands(t *testing.T) {
	s := New()
	s.Set("name", TextValue("Ada"), nil)
	attrs := Attributes{SystemTags: []SystemTag{ApplyTemplate}}
	s.Set("greeting", TextValue("Hi {{name}}"), &attrs)

	all := s.GetAll()
	if _, ok := all["$date"]; ok {
		t.Fatalf("GetAll must not include reserved keys")
	}
	if all["greeting"].Value.String() != "Hi Ada" {
		t.Fatalf("expected template expansion in GetAll, got %q", all["greeting"].Value.String())
	}
}

func TestReplaceSnapshotAtomicSwap(t *testing.T) {
	s := New()
	s.Set("stale", TextValue("x"), nil)

	s.ReplaceSnapshot(map[string]Entry{
		"fresh": {Key: "fresh", Value: TextValue("y"), Attributes: DefaultAttributes(), Revision: 5},
	}, 5)

	if s.Has("stale") {
		t.Fatalf("expected stale key removed by ReplaceSnapshot")
	}
	if !s.Has("fresh") {
		t.Fatalf("expected fresh key present after ReplaceSnapshot")
	}
	if s.Revision() != 5 {
		t.Fatalf("Revision() = %d, want 5", s.Revision())
	}
}
