package policy

type Action int

const (
	ActionPermit Action = iota + 1
	ActionDeny
)

func (a Action) String() string {
	switch a {
	case ActionPermit:
		return "permit"
	case ActionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

const defaultDenyMessage = "blocked: event not permitted"

// Decision is the outcome of an admission check. A Deny always carries a
// message, a Permit never does.
type Decision struct {
	action  Action
	message string
}

func Permit() Decision {
	return Decision{action: ActionPermit}
}

func Deny(message string) Decision {
	if message == "" {
		message = defaultDenyMessage
	}
	return Decision{action: ActionDeny, message: message}
}

func (d Decision) Action() Action  { return d.action }
func (d Decision) Permitted() bool { return d.action == ActionPermit }
func (d Decision) Message() string { return d.message }
func (d Decision) String() string {
	if d.Permitted() {
		return d.action.String()
	}
	return d.action.String() + ": " + d.message
}
