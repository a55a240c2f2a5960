// Package env is the single source of truth for every environment variable
// the mindcache binaries read. Each variable is registered once at package
// init time with a default, a description and an owning component, so that
// `mindcachectl envdoc` (see cmd/mindcachectl) can render an up to date
// reference without hand-maintained docs drifting from the code.
package env

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Component names the binary/subsystem that consumes a variable.
type Component string

const (
	ComponentAuthority    Component = "authority"
	ComponentCloudAdapter Component = "cloud-adapter"
	ComponentRegistry     Component = "registry"
	ComponentCLI          Component = "cli"
	ComponentController   Component = "controller"
	ComponentTesting      Component = "testing"
)

// VarType identifies the underlying Go type a Var decodes to.
type VarType int

const (
	TypeString VarType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeDuration
)

func (t VarType) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeBool:
		return "Boolean"
	case TypeInt:
		return "Integer"
	case TypeFloat:
		return "Floating-Point"
	case TypeDuration:
		return "Duration"
	default:
		return "Unknown"
	}
}

// Var is the metadata record kept in the registry for every declared
// environment variable. The typed wrappers below (StringVar, BoolVar, ...)
// embed a Var and add a type-specific Get/Lookup.
type Var struct {
	Name         string
	Description  string
	Component    Component
	Type         VarType
	DefaultValue string
	// Hidden excludes the var from ExportMarkdown/ExportJSON, for internal
	// knobs that are not meant to be part of the public surface.
	Hidden bool
}

var (
	varsMu  sync.Mutex
	allVars = make(map[string]Var)
)

func register(v Var) Var {
	varsMu.Lock()
	defer varsMu.Unlock()
	allVars[v.Name] = v
	return v
}

// VarByName looks up a previously registered Var by its env name.
func VarByName(name string) (Var, bool) {
	varsMu.Lock()
	defer varsMu.Unlock()
	v, ok := allVars[name]
	return v, ok
}

// VarDescriptions returns every non-hidden Var sorted by name.
func VarDescriptions() []Var {
	varsMu.Lock()
	defer varsMu.Unlock()
	out := make([]Var, 0, len(allVars))
	for _, v := range allVars {
		if v.Hidden {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func filterComponent(vars []Var, component string) []Var {
	if component == "" || component == "all" {
		return vars
	}
	out := vars[:0:0]
	for _, v := range vars {
		if string(v.Component) == component {
			out = append(out, v)
		}
	}
	return out
}

// ExportMarkdown renders the registry as a markdown reference, grouped by
// component heading. component filters to a single component, or "all".
func ExportMarkdown(component string) string {
	vars := filterComponent(VarDescriptions(), component)

	byComponent := map[Component][]Var{}
	var order []Component
	for _, v := range vars {
		if _, seen := byComponent[v.Component]; !seen {
			order = append(order, v.Component)
		}
		byComponent[v.Component] = append(byComponent[v.Component], v)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var b strings.Builder
	b.WriteString("# Environment variables\n\n")
	for _, c := range order {
		fmt.Fprintf(&b, "## %s\n\n", c)
		b.WriteString("| Name | Type | Default | Description |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, v := range byComponent[c] {
			fmt.Fprintf(&b, "| `%s` | %s | `%s` | %s |\n", v.Name, v.Type, v.DefaultValue, v.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ExportJSON renders the registry as a JSON array, for tooling that wants a
// machine-readable form instead of ExportMarkdown's table.
func ExportJSON(component string) string {
	vars := filterComponent(VarDescriptions(), component)
	type entry struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Default     string `json:"default"`
		Description string `json:"description"`
		Component   string `json:"component"`
	}
	entries := make([]entry, 0, len(vars))
	for _, v := range vars {
		entries = append(entries, entry{
			Name:        v.Name,
			Type:        v.Type.String(),
			Default:     v.DefaultValue,
			Description: v.Description,
			Component:   string(v.Component),
		})
	}
	b, _ := json.MarshalIndent(entries, "", "  ")
	return string(b)
}

// StringVar is a registered string environment variable.
type StringVar struct {
	name         string
	defaultValue string
}

func RegisterStringVar(name, defaultValue, description string, component Component) *StringVar {
	register(Var{Name: name, Description: description, Component: component, Type: TypeString, DefaultValue: defaultValue})
	return &StringVar{name: name, defaultValue: defaultValue}
}

func (v *StringVar) Name() string         { return v.name }
func (v *StringVar) DefaultValue() string { return v.defaultValue }

func (v *StringVar) Get() string {
	val, ok := v.Lookup()
	if !ok {
		return v.defaultValue
	}
	return val
}

func (v *StringVar) Lookup() (string, bool) {
	val, ok := os.LookupEnv(v.name)
	if !ok {
		return v.defaultValue, false
	}
	return val, true
}

// BoolVar is a registered boolean environment variable. An unparsable value
// falls back to the default rather than erroring, since these are read at
// process start where there is no good place to surface a parse error.
type BoolVar struct {
	name         string
	defaultValue bool
}

func RegisterBoolVar(name string, defaultValue bool, description string, component Component) *BoolVar {
	register(Var{Name: name, Description: description, Component: component, Type: TypeBool, DefaultValue: strconv.FormatBool(defaultValue)})
	return &BoolVar{name: name, defaultValue: defaultValue}
}

func (v *BoolVar) Name() string { return v.name }

func (v *BoolVar) Get() bool {
	val, ok := v.Lookup()
	if !ok {
		return v.defaultValue
	}
	return val
}

func (v *BoolVar) Lookup() (bool, bool) {
	raw, ok := os.LookupEnv(v.name)
	if !ok {
		return v.defaultValue, false
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return v.defaultValue, false
	}
	return parsed, true
}

// IntVar is a registered integer environment variable.
type IntVar struct {
	name         string
	defaultValue int
}

func RegisterIntVar(name string, defaultValue int, description string, component Component) *IntVar {
	register(Var{Name: name, Description: description, Component: component, Type: TypeInt, DefaultValue: strconv.Itoa(defaultValue)})
	return &IntVar{name: name, defaultValue: defaultValue}
}

func (v *IntVar) Name() string { return v.name }

func (v *IntVar) Get() int {
	val, ok := v.Lookup()
	if !ok {
		return v.defaultValue
	}
	return val
}

func (v *IntVar) Lookup() (int, bool) {
	raw, ok := os.LookupEnv(v.name)
	if !ok {
		return v.defaultValue, false
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return v.defaultValue, false
	}
	return parsed, true
}

// DurationVar is a registered time.Duration environment variable, parsed
// with time.ParseDuration ("500ms", "30s", "2m").
type DurationVar struct {
	name         string
	defaultValue time.Duration
}

func RegisterDurationVar(name string, defaultValue time.Duration, description string, component Component) *DurationVar {
	register(Var{Name: name, Description: description, Component: component, Type: TypeDuration, DefaultValue: defaultValue.String()})
	return &DurationVar{name: name, defaultValue: defaultValue}
}

func (v *DurationVar) Name() string { return v.name }

func (v *DurationVar) Get() time.Duration {
	val, ok := v.Lookup()
	if !ok {
		return v.defaultValue
	}
	return val
}

func (v *DurationVar) Lookup() (time.Duration, bool) {
	raw, ok := os.LookupEnv(v.name)
	if !ok {
		return v.defaultValue, false
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return v.defaultValue, false
	}
	return parsed, true
}
