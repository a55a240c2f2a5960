package store

import (
	"strings"
	"time"
)

// ReservedPrefix marks a key as runtime-computed rather than stored
// (spec §3 Reserved keys). Reserved keys are readable, never persisted,
// and rejected by every external write path.
const ReservedPrefix = "$"

// IsReserved reports whether key is a reserved, runtime-computed key.
func IsReserved(key string) bool {
	return strings.HasPrefix(key, ReservedPrefix)
}

// reservedResolver computes the current value of a reserved key.
type reservedResolver func(now time.Time) Value

// builtinReserved are the runtime-computed keys named in spec §3/§4.1.
var builtinReserved = map[string]reservedResolver{
	"$date": func(now time.Time) Value { return TextValue(now.Format("2006-01-02")) },
	"$time": func(now time.Time) Value { return TextValue(now.Format("15:04:05")) },
	"$now":  func(now time.Time) Value { return TextValue(now.Format(time.RFC3339)) },
}

// resolveReserved computes a reserved key's value, or reports ok=false if
// key is reserved but not one this Store knows how to compute.
func (s *Store) resolveReserved(key string) (Value, bool) {
	if fn, ok := s.reserved[key]; ok {
		return fn(s.now()), true
	}
	if fn, ok := builtinReserved[key]; ok {
		return fn(s.now()), true
	}
	return nil, false
}
