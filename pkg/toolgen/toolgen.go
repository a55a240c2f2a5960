// Package toolgen implements the L2 derivation: a pure function of the
// current Store state that produces an LLM system prompt and a set of
// callable tool descriptors (spec §4.2). It performs no I/O and holds
// no state of its own.
package toolgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dh7/mindcache/pkg/store"
)

// Mode gates which tools are emitted alongside write_<key> descriptors.
type Mode int

const (
	// ModeUse emits only write_<key> tools, for entries tagged LLMWrite
	// that are neither readonly nor SystemPrompt. No schema mutation is
	// exposed.
	ModeUse Mode = iota
	// ModeEdit additionally emits create_key, delete_key, and
	// set_attributes, and ignores the readonly flag when generating
	// write_<key> tools.
	ModeEdit
)

// Tool is a single callable descriptor. Schema is a JSON-Schema object;
// OpenAIParam and AnthropicParam in llmschema.go embed it directly into
// each SDK's own tool-call parameter types.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Executor performs the side effect a Tool names, given the arguments
// the model supplied, keyed by parameter name. It is returned alongside the Tool
// descriptors so a caller can dispatch a tool call without re-deriving
// the mapping from key to store mutation.
type Executor func(store *store.Store, args map[string]any) (string, error)

// Result is the pure output of Derive: a rendered system prompt and the
// tool surface currently available, each tool paired with the function
// that performs it.
type Result struct {
	SystemPrompt string
	Tools        []Tool
	Executors    map[string]Executor
}

// Derive reads s and produces the system prompt and tool set (spec
// §4.2). It performs no I/O; s is read under its own lock via the
// public Store API only.
func Derive(s *store.Store, mode Mode) Result {
	entries := s.GetAll()
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	includeReserved(s, &keys, &entries)

	sort.Slice(keys, func(i, j int) bool {
		a, b := entries[keys[i]], entries[keys[j]]
		if a.Attributes.ZIndex != b.Attributes.ZIndex {
			return a.Attributes.ZIndex < b.Attributes.ZIndex
		}
		return keys[i] < keys[j]
	})

	result := Result{Executors: map[string]Executor{}}
	result.SystemPrompt = buildSystemPrompt(keys, entries)
	result.Tools, result.Executors = buildTools(keys, entries, mode)

	if mode == ModeEdit {
		createTool, createExec := createKeyTool()
		deleteTool, deleteExec := deleteKeyTool()
		attrsTool, attrsExec := setAttributesTool()
		result.Tools = append(result.Tools, createTool, deleteTool, attrsTool)
		result.Executors[createTool.Name] = createExec
		result.Executors[deleteTool.Name] = deleteExec
		result.Executors[attrsTool.Name] = attrsExec
	}
	return result
}

// includeReserved adds the built-in reserved keys ($date/$time/$now) to
// the candidate set for system-prompt rendering; they are always
// eligible per spec §4.2.
func includeReserved(s *store.Store, keys *[]string, entries *map[string]store.Entry) {
	for _, k := range []string{"$date", "$time", "$now"} {
		v, err := s.Get(k)
		if err != nil {
			continue
		}
		(*entries)[k] = store.Entry{
			Key:        k,
			Value:      v,
			Attributes: store.Attributes{SystemTags: []store.SystemTag{store.SystemPrompt}},
		}
		*keys = append(*keys, k)
	}
}

func buildSystemPrompt(keys []string, entries map[string]store.Entry) string {
	var b strings.Builder
	b.WriteString("The following is the agent's persistent memory.\n\n")
	for _, k := range keys {
		e := entries[k]
		if !e.Attributes.Has(store.SystemPrompt) {
			continue
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(renderValue(e))
		b.WriteString("\n")
	}
	return b.String()
}

// renderValue renders an entry's value for prompt inclusion, substituting
// a placeholder descriptor for binary kinds rather than embedding bytes.
func renderValue(e store.Entry) string {
	switch e.Value.Kind() {
	case store.KindImage:
		return fmt.Sprintf("[image attachment, contentType=%s]", e.Attributes.ContentType)
	case store.KindFile:
		return fmt.Sprintf("[file attachment, contentType=%s]", e.Attributes.ContentType)
	default:
		return e.Value.String()
	}
}

func buildTools(keys []string, entries map[string]store.Entry, mode Mode) ([]Tool, map[string]Executor) {
	var tools []Tool
	execs := map[string]Executor{}
	for _, k := range keys {
		e := entries[k]
		if !e.Attributes.Has(store.LLMWrite) {
			continue
		}
		if mode == ModeUse {
			if e.Attributes.Readonly || e.Attributes.Has(store.SystemPrompt) {
				continue
			}
		}
		tool, exec := writeKeyTool(k, e)
		tools = append(tools, tool)
		execs[tool.Name] = exec
	}
	return tools, execs
}

func writeKeyTool(key string, e store.Entry) (Tool, Executor) {
	name := "write_" + key
	desc := describeWriteTool(key, e)
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{"type": "string"},
		},
		"required": []string{"value"},
	}
	exec := func(s *store.Store, args map[string]any) (string, error) {
		raw, _ := args["value"].(string)
		attrs, err := s.GetAttributes(key)
		if err != nil {
			attrs = store.DefaultAttributes()
		}
		var value store.Value
		if e.Value.Kind() == store.KindJSON {
			jv, err := store.ParseJSONValue(raw)
			if err != nil {
				return "", fmt.Errorf("write_%s: invalid json argument: %w", key, err)
			}
			value = jv
		} else {
			value = store.TextValue(raw)
		}
		if err := s.Set(key, value, &attrs); err != nil {
			return "", err
		}
		return "ok", nil
	}
	return Tool{Name: name, Description: desc, Schema: schema}, exec
}

func describeWriteTool(key string, e store.Entry) string {
	kind := string(e.Value.Kind())
	if len(e.Attributes.ContentTags) == 0 {
		return fmt.Sprintf("Write a new %s value for %q.", kind, key)
	}
	return fmt.Sprintf("Write a new %s value for %q (tags: %s).", kind, key, strings.Join(e.Attributes.ContentTags, ", "))
}

func createKeyTool() (Tool, Executor) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":   map[string]any{"type": "string"},
			"value": map[string]any{"type": "string"},
		},
		"required": []string{"key", "value"},
	}
	exec := func(s *store.Store, args map[string]any) (string, error) {
		key, _ := args["key"].(string)
		value, _ := args["value"].(string)
		if err := s.Set(key, store.TextValue(value), nil); err != nil {
			return "", err
		}
		return "ok", nil
	}
	return Tool{Name: "create_key", Description: "Create a new memory entry with a text value.", Schema: schema}, exec
}

func deleteKeyTool() (Tool, Executor) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"key": map[string]any{"type": "string"}},
		"required":   []string{"key"},
	}
	exec := func(s *store.Store, args map[string]any) (string, error) {
		key, _ := args["key"].(string)
		if err := s.Delete(key); err != nil {
			return "", err
		}
		return "ok", nil
	}
	return Tool{Name: "delete_key", Description: "Delete a memory entry.", Schema: schema}, exec
}

func setAttributesTool() (Tool, Executor) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":         map[string]any{"type": "string"},
			"contentTags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"zIndex":      map[string]any{"type": "integer"},
			"readonly":    map[string]any{"type": "boolean"},
		},
		"required": []string{"key"},
	}
	exec := func(s *store.Store, args map[string]any) (string, error) {
		key, _ := args["key"].(string)
		attrs, err := s.GetAttributes(key)
		if err != nil {
			return "", err
		}
		if tags, ok := args["contentTags"].([]any); ok {
			attrs.ContentTags = attrs.ContentTags[:0]
			for _, t := range tags {
				if s, ok := t.(string); ok {
					attrs.ContentTags = append(attrs.ContentTags, s)
				}
			}
		}
		if z, ok := args["zIndex"].(float64); ok {
			attrs.ZIndex = int(z)
		}
		if ro, ok := args["readonly"].(bool); ok {
			attrs.Readonly = ro
		}
		if err := s.SetAttributes(key, attrs); err != nil {
			return "", err
		}
		return "ok", nil
	}
	return Tool{Name: "set_attributes", Description: "Update tags, ordering, or read-only status on a memory entry.", Schema: schema}, exec
}
