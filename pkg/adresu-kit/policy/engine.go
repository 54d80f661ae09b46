package policy

import (
	"fmt"

	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/nip"
)

// EngineName identifies the policy engine in logs and rejection levels.
const EngineName = "PolicyEngine"

// Evaluate decides whether ev may be admitted under p. Both the kind and the
// author must be permitted. When both fail, the kind is reported.
func Evaluate(ev *Event, p *Policy) Decision {
	if ev == nil {
		return Deny("Event missing")
	}

	authorID, err := nip.EncodePublicKey(ev.PubKey)
	if err != nil {
		return Deny(fmt.Sprintf("Author key invalid: %v", err))
	}

	kindPermitted := p.KindAllowed(ev.Kind)
	authorPermitted := p.AuthorAllowed(authorID)

	switch {
	case kindPermitted && authorPermitted:
		return Permit()
	case !kindPermitted:
		return Deny(fmt.Sprintf("Kind %d not permitted", ev.Kind))
	default:
		return Deny(fmt.Sprintf("Author %s not permitted", authorID))
	}
}
