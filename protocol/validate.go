package protocol

import (
	"errors"

	"github.com/cyberinferno/songstream/session"
)

// ErrInvalidCommand is the response to a line that does not parse.
var ErrInvalidCommand = errors.New("invalid command")

// stateError is an auth-state violation. Its text is the client-facing
// message and it unwraps to the matching session error.
type stateError struct {
	msg  string
	kind error
}

func (e *stateError) Error() string { return e.msg }
func (e *stateError) Unwrap() error { return e.kind }

var (
	// ErrAuthRequired is returned for commands that need a logged-in connection.
	ErrAuthRequired error = &stateError{msg: "you have not logged in", kind: session.ErrNotLoggedIn}
	// ErrAlreadyAuthenticated is returned for login or register on a logged-in connection.
	ErrAlreadyAuthenticated error = &stateError{msg: "you have already logged in", kind: session.ErrAlreadyLoggedIn}
)

// Validate checks cmd against the connection's auth state. Anonymous
// connections may only log in, register or terminate. Authenticated
// connections may issue anything except login and register.
func Validate(cmd Command, authenticated bool) error {
	switch {
	case !authenticated && cmd.Verb.RequiresAuth():
		return ErrAuthRequired
	case authenticated && (cmd.Verb == VerbLogin || cmd.Verb == VerbRegister):
		return ErrAlreadyAuthenticated
	}

	return nil
}
