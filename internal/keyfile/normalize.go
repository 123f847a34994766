package keyfile

import "strings"

const (
	// InternalSeparator is the token used in raw file names to denote
	// nesting ("Logging__Level").
	InternalSeparator = "__"

	// KeySeparator joins segments in exposed hierarchical keys
	// ("Logging:Level").
	KeySeparator = ":"
)

// NormalizeKey maps a raw entry name to its hierarchical configuration
// key by replacing every occurrence of the internal separator with the
// key separator. A name with no separator yields a single-segment key
// equal to the name. Case is preserved.
func NormalizeKey(name string) string {
	return strings.ReplaceAll(name, InternalSeparator, KeySeparator)
}
