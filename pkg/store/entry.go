package store

import "time"

// SystemTag is one of the fixed control tags that drive L2 derivation
// (spec §3, §4.2). They are orthogonal to user-chosen ContentTags.
type SystemTag string

const (
	SystemPrompt  SystemTag = "SystemPrompt"
	LLMRead       SystemTag = "LLMRead"
	LLMWrite      SystemTag = "LLMWrite"
	ApplyTemplate SystemTag = "ApplyTemplate"
)

// Attributes is the bag of typed flags and hints on an entry (spec §3).
// Readonly and Protected are modeled as explicit booleans even though
// spec.md calls them "derived/implied" — see DESIGN.md for the legacy
// boolean-vs-systemTags decision (spec §9's open question).
type Attributes struct {
	SystemTags  []SystemTag
	ContentTags []string
	ContentType string
	ZIndex      int
	Readonly    bool
	Protected   bool
}

// Clone returns a deep copy so callers can safely mutate the result of
// GetAttributes without reaching back into the store's internal state.
func (a Attributes) Clone() Attributes {
	out := a
	out.SystemTags = append([]SystemTag(nil), a.SystemTags...)
	out.ContentTags = append([]string(nil), a.ContentTags...)
	return out
}

// Equal reports whether a and b carry the same flags, tags and hints,
// ignoring slice backing-array identity.
func (a Attributes) Equal(b Attributes) bool {
	if a.ContentType != b.ContentType || a.ZIndex != b.ZIndex ||
		a.Readonly != b.Readonly || a.Protected != b.Protected {
		return false
	}
	if len(a.SystemTags) != len(b.SystemTags) {
		return false
	}
	for i, t := range a.SystemTags {
		if b.SystemTags[i] != t {
			return false
		}
	}
	if len(a.ContentTags) != len(b.ContentTags) {
		return false
	}
	for i, t := range a.ContentTags {
		if b.ContentTags[i] != t {
			return false
		}
	}
	return true
}

// Has reports whether the attribute set includes the given system tag.
func (a Attributes) Has(tag SystemTag) bool {
	for _, t := range a.SystemTags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasContentTag reports whether the attribute set includes the given
// user content tag.
func (a Attributes) HasContentTag(tag string) bool {
	for _, t := range a.ContentTags {
		if t == tag {
			return true
		}
	}
	return false
}

// DefaultAttributes are the attributes a brand-new key gets when the first
// write to it omits them (spec §3 Lifecycle).
func DefaultAttributes() Attributes {
	return Attributes{SystemTags: nil, ContentTags: nil, ZIndex: 0}
}

// Entry is the unit of storage: a value, its attributes, and metadata
// (spec §3).
type Entry struct {
	Key        string
	Value      Value
	Attributes Attributes
	LastWriter string
	Revision   uint64
	UpdatedAt  time.Time
}

// Clone returns a copy of the entry with independently-mutable Attributes.
func (e Entry) Clone() Entry {
	e.Attributes = e.Attributes.Clone()
	return e
}
