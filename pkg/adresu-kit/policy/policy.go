package policy

import (
	"slices"
)

// Policy is an immutable admission policy: which kinds and which authors are
// permitted. Authors are canonical npub strings. A nil Policy permits nothing.
type Policy struct {
	kinds   map[uint64]struct{}
	authors map[string]struct{}
}

// DefaultAllowedKinds are used when the configuration does not list any kinds.
var DefaultAllowedKinds = []uint64{0, 1, 2, 3, 30023}

func NewPolicy(kinds []uint64, authors []string) *Policy {
	p := &Policy{
		kinds:   make(map[uint64]struct{}, len(kinds)),
		authors: make(map[string]struct{}, len(authors)),
	}
	for _, k := range kinds {
		p.kinds[k] = struct{}{}
	}
	for _, a := range authors {
		p.authors[a] = struct{}{}
	}
	return p
}

func (p *Policy) KindAllowed(kind uint64) bool {
	if p == nil {
		return false
	}
	_, ok := p.kinds[kind]
	return ok
}

// AuthorAllowed reports whether the canonical author id is permitted. An
// empty author set permits nobody.
func (p *Policy) AuthorAllowed(id string) bool {
	if p == nil {
		return false
	}
	_, ok := p.authors[id]
	return ok
}

// Kinds returns the permitted kinds in ascending order.
func (p *Policy) Kinds() []uint64 {
	if p == nil {
		return nil
	}
	out := make([]uint64, 0, len(p.kinds))
	for k := range p.kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Authors returns the permitted authors in lexical order.
func (p *Policy) Authors() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.authors))
	for a := range p.authors {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}
