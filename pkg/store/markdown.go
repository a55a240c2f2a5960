package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dh7/mindcache/pkg/mcerr"
)

// SetName sets the instance name used in ToMarkdown's top-level heading.
func (s *Store) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func fenceLangFor(kind Kind) string {
	switch kind {
	case KindJSON:
		return "json"
	case KindImage, KindFile:
		return "base64"
	case KindDocument:
		return "document"
	default:
		return "text"
	}
}

// ToMarkdown renders every non-reserved entry as the interchange format
// of spec §6: a top-level heading, one `## <key>` subsection per entry
// with a fenced JSON metadata block and the value in its native fenced
// rendering.
func (s *Store) ToMarkdown() (string, error) {
	s.mu.Lock()
	name := s.name
	s.mu.Unlock()
	if name == "" {
		name = "store"
	}

	s.mu.Lock()
	entries := make(map[string]Entry, len(s.entries))
	for k, e := range s.entries {
		entries[k] = e.Clone()
	}
	s.mu.Unlock()
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "# MindCache %s\n\n", name)
	for _, k := range keys {
		e := entries[k]
		fmt.Fprintf(&b, "## %s\n\n", k)

		meta, err := json.Marshal(toWireAttributes(e.Attributes))
		if err != nil {
			return "", mcerr.Wrap(mcerr.InvalidValue, "marshaling metadata", err)
		}
		fmt.Fprintf(&b, "```meta\n%s\n```\n\n", meta)

		lang := fenceLangFor(e.Value.Kind())
		fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, e.Value.String())
	}
	return b.String(), nil
}

// FromMarkdown parses the interchange format of spec §6. When merge is
// false, the store's non-reserved entries are fully replaced by the
// document's content; when merge is true, entries in the document are
// upserted and entries absent from it are left untouched.
func (s *Store) FromMarkdown(data string, merge bool) error {
	sections, err := parseMarkdownSections(data)
	if err != nil {
		return err
	}

	parsed := make(map[string]Entry, len(sections))
	for key, sec := range sections {
		var wa wireAttributes
		if err := json.Unmarshal([]byte(sec.meta), &wa); err != nil {
			return mcerr.Wrap(mcerr.InvalidAttributes, fmt.Sprintf("parsing metadata for %q", key), err)
		}
		attrs := fromWireAttributes(wa)
		value, err := decodeMarkdownValue(wa.ContentType, sec.valueLang, sec.value)
		if err != nil {
			return err
		}
		parsed[key] = Entry{Key: key, Value: value, Attributes: attrs}
	}

	if !merge {
		s.ReplaceSnapshot(parsed, 0)
		return nil
	}

	for k, e := range parsed {
		if err := s.Set(k, e.Value, &e.Attributes); err != nil {
			return err
		}
	}
	return nil
}

func decodeMarkdownValue(contentType, lang, raw string) (Value, error) {
	switch lang {
	case "json":
		return ParseJSONValue(raw)
	case "base64":
		kind := KindFile
		if strings.HasPrefix(contentType, "image/") {
			kind = KindImage
		}
		return BinaryValueFromBase64(kind, raw), nil
	case "document":
		return DocumentValue{Text: raw}, nil
	default:
		return TextValue(raw), nil
	}
}

type markdownSection struct {
	meta      string
	valueLang string
	value     string
}

// parseMarkdownSections splits a ToMarkdown document into per-key
// sections. It is a small hand-rolled scanner rather than a markdown
// renderer, since ToMarkdown's output is a fixed, narrow dialect and the
// round-trip must preserve values bitwise — a general renderer would
// normalize whitespace and break that guarantee.
func parseMarkdownSections(data string) (map[string]markdownSection, error) {
	lines := strings.Split(data, "\n")
	out := make(map[string]markdownSection)

	i := 0
	var currentKey string
	haveKey := false
	var pendingMeta, pendingLang, pendingValue string
	haveMeta, haveValue := false, false

	flush := func() error {
		if !haveKey {
			return nil
		}
		if !haveMeta {
			return mcerr.New(mcerr.InvalidAttributes, fmt.Sprintf("section %q missing metadata fence", currentKey))
		}
		out[currentKey] = markdownSection{meta: pendingMeta, valueLang: pendingLang, value: pendingValue}
		return nil
	}

	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "## "):
			if err := flush(); err != nil {
				return nil, err
			}
			currentKey = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			haveKey = true
			haveMeta, haveValue = false, false
			pendingMeta, pendingLang, pendingValue = "", "", ""
			i++
		case strings.HasPrefix(line, "```"):
			lang := strings.TrimSpace(strings.TrimPrefix(line, "```"))
			i++
			var content []string
			for i < len(lines) && strings.TrimSpace(lines[i]) != "```" {
				content = append(content, lines[i])
				i++
			}
			i++ // consume closing fence
			body := strings.Join(content, "\n")
			if lang == "meta" {
				pendingMeta = body
				haveMeta = true
			} else {
				pendingLang = lang
				pendingValue = body
				haveValue = true
			}
		default:
			i++
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	_ = haveValue
	return out, nil
}
