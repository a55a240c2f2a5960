package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dh7/mindcache/pkg/mcerr"
)

// wireAttributes is the JSON shape of Attributes. Readonly is a stored
// attribute and round-trips. Template is a legacy boolean derived from
// the ApplyTemplate system tag on export and ignored again on import.
type wireAttributes struct {
	SystemTags  []SystemTag `json:"systemTags"`
	ContentTags []string    `json:"contentTags"`
	ContentType string      `json:"contentType,omitempty"`
	ZIndex      int         `json:"zIndex"`
	Readonly    bool        `json:"readonly"`
	Protected   bool        `json:"protected,omitempty"`
	// Legacy derived view, ignored on import.
	Template bool `json:"template"`
}

func toWireAttributes(a Attributes) wireAttributes {
	return wireAttributes{
		SystemTags:  append([]SystemTag(nil), a.SystemTags...),
		ContentTags: append([]string(nil), a.ContentTags...),
		ContentType: a.ContentType,
		ZIndex:      a.ZIndex,
		Readonly:    a.Readonly,
		Protected:   a.Protected,
		Template:    a.Has(ApplyTemplate),
	}
}

func fromWireAttributes(w wireAttributes) Attributes {
	return Attributes{
		SystemTags:  append([]SystemTag(nil), w.SystemTags...),
		ContentTags: append([]string(nil), w.ContentTags...),
		ContentType: w.ContentType,
		ZIndex:      w.ZIndex,
		Readonly:    w.Readonly,
		Protected:   w.Protected,
	}
}

type wireEntry struct {
	Type       Kind            `json:"type"`
	Value      json.RawMessage `json:"value"`
	Attributes wireAttributes  `json:"attributes"`
	Revision   uint64          `json:"revision"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func encodeValue(v Value) (json.RawMessage, error) {
	switch val := v.(type) {
	case TextValue:
		return json.Marshal(string(val))
	case JSONValue:
		return json.Marshal(val.Data)
	case BinaryValue:
		return json.Marshal(val.Base64)
	case DocumentValue:
		return json.Marshal(val.Text)
	default:
		return nil, mcerr.New(mcerr.InvalidValue, fmt.Sprintf("unsupported value type %T", v))
	}
}

func decodeValue(kind Kind, raw json.RawMessage) (Value, error) {
	switch kind {
	case KindText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, mcerr.Wrap(mcerr.InvalidValue, "decoding text value", err)
		}
		return TextValue(s), nil
	case KindJSON:
		var data any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, mcerr.Wrap(mcerr.InvalidValue, "decoding json value", err)
		}
		return JSONValue{Data: data}, nil
	case KindImage, KindFile:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, mcerr.Wrap(mcerr.InvalidValue, "decoding binary value", err)
		}
		return BinaryValueFromBase64(kind, s), nil
	case KindDocument:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, mcerr.Wrap(mcerr.InvalidValue, "decoding document value", err)
		}
		return DocumentValue{Text: s}, nil
	default:
		return nil, mcerr.New(mcerr.InvalidValue, fmt.Sprintf("unknown value kind %q", kind))
	}
}

// EncodeValue renders a single Value in the same shape ToJSON uses for
// an entry's "value" field. Exported for pkg/wire producers (pkg/cloud,
// internal/authority) that marshal one entry at a time instead of a
// whole snapshot.
func EncodeValue(v Value) (json.RawMessage, error) { return encodeValue(v) }

// DecodeValue is EncodeValue's inverse, given the value's declared Kind.
func DecodeValue(kind Kind, raw json.RawMessage) (Value, error) { return decodeValue(kind, raw) }

// EncodeAttributes renders Attributes in the same wire shape ToJSON uses.
func EncodeAttributes(a Attributes) (json.RawMessage, error) {
	b, err := json.Marshal(toWireAttributes(a))
	if err != nil {
		return nil, mcerr.Wrap(mcerr.InvalidAttributes, "marshaling attributes", err)
	}
	return b, nil
}

// DecodeAttributes is EncodeAttributes's inverse.
func DecodeAttributes(raw json.RawMessage) (Attributes, error) {
	if len(raw) == 0 {
		return Attributes{}, nil
	}
	var w wireAttributes
	if err := json.Unmarshal(raw, &w); err != nil {
		return Attributes{}, mcerr.Wrap(mcerr.InvalidAttributes, "decoding attributes", err)
	}
	return fromWireAttributes(w), nil
}

// ToJSON renders every non-reserved entry as the canonical on-the-wire
// snapshot shape (spec §4.1, §4.3.2's `sync` message). Values are
// exported as stored, without template expansion.
func (s *Store) ToJSON() (string, error) {
	s.mu.Lock()
	entries := make(map[string]Entry, len(s.entries))
	for k, e := range s.entries {
		entries[k] = e.Clone()
	}
	s.mu.Unlock()
	out := make(map[string]wireEntry, len(entries))
	for k, e := range entries {
		raw, err := encodeValue(e.Value)
		if err != nil {
			return "", err
		}
		out[k] = wireEntry{
			Type:       e.Value.Kind(),
			Value:      raw,
			Attributes: toWireAttributes(e.Attributes),
			Revision:   e.Revision,
			UpdatedAt:  e.UpdatedAt,
		}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", mcerr.Wrap(mcerr.InvalidValue, "marshaling store snapshot", err)
	}
	return string(b), nil
}

// FromJSON replaces the store's non-reserved entries from a snapshot
// produced by ToJSON (spec §4.1: "fromJSON is the identity on the
// non-reserved subset" when composed with ToJSON).
func (s *Store) FromJSON(data string) error {
	var wire map[string]wireEntry
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return mcerr.Wrap(mcerr.InvalidValue, "parsing store snapshot", err)
	}
	entries := make(map[string]Entry, len(wire))
	var maxRevision uint64
	for k, we := range wire {
		if IsReserved(k) {
			continue
		}
		value, err := decodeValue(we.Type, we.Value)
		if err != nil {
			return err
		}
		entries[k] = Entry{
			Key:        k,
			Value:      value,
			Attributes: fromWireAttributes(we.Attributes),
			Revision:   we.Revision,
			UpdatedAt:  we.UpdatedAt,
		}
		if we.Revision > maxRevision {
			maxRevision = we.Revision
		}
	}
	s.ReplaceSnapshot(entries, maxRevision)
	return nil
}
