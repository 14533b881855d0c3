package session

// State is the derived sign-in state of a Manager.
type State int

const (
	// SignedOut means no session is held.
	SignedOut State = iota
	// SignedInValid means the id token has more than the refresh lead left.
	SignedInValid
	// SignedInExpiring means the id token is within the refresh lead of
	// expiry, or its expiry is unknown.
	SignedInExpiring
)

func (s State) String() string {
	switch s {
	case SignedInValid:
		return "signed_in"
	case SignedInExpiring:
		return "expiring"
	default:
		return "signed_out"
	}
}
