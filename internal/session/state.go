package session

// State is the authentication state of one account's browser session.
type State int

const (
	StateUnauthenticated State = iota
	StateCredentialsSubmitted
	StateChallengeRequired
	StateAuthenticated
	StateStale
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateCredentialsSubmitted:
		return "credentials_submitted"
	case StateChallengeRequired:
		return "challenge_required"
	case StateAuthenticated:
		return "authenticated"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}
