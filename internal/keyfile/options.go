package keyfile

import "strings"

// DefaultIgnorePrefix is the prefix that excludes entries when no custom
// ignore condition is configured.
const DefaultIgnorePrefix = "ignore."

// Options controls build and reload policy.
//
// The ignore filter is tri-state:
//   - IgnoreCondition set: it is the sole filter. An entry is excluded
//     iff the condition returns true for its raw name. A condition that
//     always returns false disables filtering entirely.
//   - IgnoreCondition nil, IgnorePrefix nil: the default prefix rule
//     applies (exclude names starting with [DefaultIgnorePrefix]).
//   - IgnoreCondition nil, IgnorePrefix pointing at "": no filtering.
type Options struct {
	// Optional tolerates a missing or unreadable source: the initial
	// load degrades to an empty snapshot and later reload failures
	// become silent no-ops that retain the previous snapshot.
	Optional bool

	// IgnorePrefix overrides the default ignore prefix. nil means
	// DefaultIgnorePrefix; a pointer to the empty string disables
	// prefix filtering.
	IgnorePrefix *string

	// IgnoreCondition, when set, fully replaces the prefix rule.
	IgnoreCondition func(name string) bool
}

// excluded applies the ignore policy to a raw entry name.
func (o Options) excluded(name string) bool {
	if o.IgnoreCondition != nil {
		return o.IgnoreCondition(name)
	}
	prefix := DefaultIgnorePrefix
	if o.IgnorePrefix != nil {
		prefix = *o.IgnorePrefix
	}
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(name, prefix)
}
