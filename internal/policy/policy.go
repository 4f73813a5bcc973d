// Package policy holds the static allow-lists that gate which service calls an
// LLM may forward to the home-automation bus, and which extra arguments ride
// along with them.
//
// A Policy is built once at startup and never mutated afterwards, so it is safe
// for unsynchronized concurrent reads.
package policy

import (
	"sort"
	"strings"
)

type set map[string]struct{}

func newSet(items []string) set {
	s := make(set, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		s[it] = struct{}{}
	}
	return s
}

func (s set) has(k string) bool {
	_, ok := s[k]
	return ok
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Policy combines the domain/service allow-list with the extra-argument whitelist.
type Policy struct {
	domains   set
	services  set
	arguments set
}

// New builds an immutable policy. Services are fully-qualified "domain.service"
// strings; blank entries are ignored.
func New(domains, services, arguments []string) *Policy {
	return &Policy{
		domains:   newSet(domains),
		services:  newSet(services),
		arguments: newSet(arguments),
	}
}

// DomainAllowed reports whether domain is in the allowed domain set.
func (p *Policy) DomainAllowed(domain string) bool { return p.domains.has(domain) }

// ServiceAllowed reports whether the fully-qualified service is allowed.
// An allowed domain is necessary but not sufficient.
func (p *Policy) ServiceAllowed(service string) bool { return p.services.has(service) }

// ArgumentAllowed reports whether an extra argument key may be forwarded.
func (p *Policy) ArgumentAllowed(key string) bool { return p.arguments.has(key) }

func (p *Policy) Domains() []string   { return p.domains.sorted() }
func (p *Policy) Services() []string  { return p.services.sorted() }
func (p *Policy) Arguments() []string { return p.arguments.sorted() }
