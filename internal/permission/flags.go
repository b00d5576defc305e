package permission

import "sort"

// FlagSet is a set of capability flag names.
type FlagSet map[string]struct{}

// NewFlagSet builds a set from names, folding case and dropping blanks.
func NewFlagSet(names ...string) FlagSet {
	set := make(FlagSet, len(names))
	set.Add(names...)
	return set
}

// Add inserts names into the set.
func (s FlagSet) Add(names ...string) {
	for _, name := range names {
		folded := foldName(name)
		if folded == "" {
			continue
		}
		s[folded] = struct{}{}
	}
}

// Has reports membership of name.
func (s FlagSet) Has(name string) bool {
	_, ok := s[foldName(name)]
	return ok
}

// Union returns a new set holding the members of both sets.
func (s FlagSet) Union(other FlagSet) FlagSet {
	out := make(FlagSet, len(s)+len(other))
	for name := range s {
		out[name] = struct{}{}
	}
	for name := range other {
		out[name] = struct{}{}
	}
	return out
}

// Without returns a new set holding the members of s absent from other.
func (s FlagSet) Without(other FlagSet) FlagSet {
	out := make(FlagSet, len(s))
	for name := range s {
		if _, denied := other[name]; denied {
			continue
		}
		out[name] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s FlagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Normalize makes permit and deny disjoint by removing denied names from
// permit.
func Normalize(permit, deny FlagSet) (FlagSet, FlagSet) {
	return permit.Without(deny), deny.Union(nil)
}
