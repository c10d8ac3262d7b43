// Package registry implements the prefixed capability namespace that fuses
// every connected upstream's tools, resources, and prompts into one flat
// set without collisions (spec.md §4.3).
package registry

import "strings"

// Separator is the load-bearing three-character join between an upstream
// name and a capability's original id. Upstream names are validated at
// config load time to never contain it (spec.md §3).
const Separator = "___"

// AddPrefix builds the externally visible id for a capability originally
// advertised by upstream under name.
func AddPrefix(upstream, name string) string {
	return upstream + Separator + name
}

// RemovePrefix splits a prefixed id on the first occurrence of Separator.
// Original names may themselves contain "___"; splitting on the first
// occurrence, not the last, is what makes the round trip lossless
// (spec.md §4.3, §8 "Prefix round-trip").
func RemovePrefix(prefixed string) (upstream, name string, ok bool) {
	upstream, name, found := strings.Cut(prefixed, Separator)
	if !found || upstream == "" || name == "" {
		return "", "", false
	}
	return upstream, name, true
}
