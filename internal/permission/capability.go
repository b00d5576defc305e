// Package permission combines guest-role bitmasks with per-assignment
// permit and deny flags.
package permission

import (
	"net/http"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// Capability is a bitmask over the operations a principal may perform on an
// account.
type Capability uint32

const (
	View   Capability = 1 << iota // 1
	Create                        // 2
	Update                        // 4
	Delete                        // 8
)

// All grants every known capability.
const All = View | Create | Update | Delete

var capabilityNames = map[string]Capability{
	"view":   View,
	"create": Create,
	"update": Update,
	"delete": Delete,
}

// ParseCapability maps a flag name to its capability bit. Names are
// case-folded; unknown names report false.
func ParseCapability(name string) (Capability, bool) {
	c, ok := capabilityNames[foldName(name)]
	return c, ok
}

// Has reports whether every bit of want is set on c.
func (c Capability) Has(want Capability) bool {
	return want != 0 && c&want == want
}

// Names lists the known capability names set on c, sorted.
func (c Capability) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for name, bit := range capabilityNames {
		if c&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	return strings.Join(c.Names(), "|")
}

// ForMethod returns the capability an HTTP method exercises.
func ForMethod(method string) Capability {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return Create
	case http.MethodPut, http.MethodPatch:
		return Update
	case http.MethodDelete:
		return Delete
	default:
		return View
	}
}

// Resolve computes the effective bitmask: permit flags are applied on top of
// base, then deny flags clear their bits. Deny is applied last regardless of
// the order the sets were built in. Unknown flag names are ignored.
func Resolve(base Capability, permit, deny FlagSet) Capability {
	effective := base
	for name := range permit {
		if bit, ok := ParseCapability(name); ok {
			effective |= bit
		}
	}
	for name := range deny {
		if bit, ok := ParseCapability(name); ok {
			effective &^= bit
		}
	}
	return effective
}

// HasCapability is the bit test used by callers holding a raw bitmask.
func HasCapability(effective, capability Capability) bool {
	return effective.Has(capability)
}

func foldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
