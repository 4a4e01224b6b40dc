package session

import (
	"errors"
	"fmt"
)

var (
	ErrCredentialsRejected   = errors.New("credentials rejected")
	ErrChallengeTimeout      = errors.New("verification challenge not completed in time")
	ErrChallengeUnavailable  = errors.New("verification challenge required but no code source configured")
	ErrUnexpectedDestination = errors.New("landed outside the protected area after login")
	ErrLoginFormUnavailable  = errors.New("login form not found")
	ErrNavigation            = errors.New("navigation failed")
)

// AuthError is a terminal authentication failure. Kind is one of the
// sentinel errors above; Err is the underlying cause, if any.
type AuthError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsAuthError reports whether err is a terminal authentication failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
