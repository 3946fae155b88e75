package macaddr

import "strings"

// Normalize reduces a MAC address to its canonical comparable form: hex
// digits only, lowercased. "AA-BB-CC-DD-EE-01", "aa:bb:cc:dd:ee:01" and
// "aabb.ccdd.ee01" all normalize to "aabbccddee01". Unknown separators and
// whitespace are dropped rather than rejected, since the value may come from
// operator data entry.
func Normalize(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Set is a membership set of normalized MAC addresses.
type Set map[string]struct{}

// NewSet normalizes each address and builds a set for O(1) lookups. Empty
// results of normalization (e.g. blank input) are skipped.
func NewSet(addrs []string) Set {
	set := make(Set, len(addrs))
	for _, addr := range addrs {
		if n := Normalize(addr); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Contains reports whether the normalized form of raw is in the set.
func (s Set) Contains(raw string) bool {
	_, ok := s[Normalize(raw)]
	return ok
}
