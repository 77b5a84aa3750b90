package challenge

import (
	"errors"
	"fmt"
)

// State is a step of the challenge resolution state machine.
type State int

const (
	Searching State = iota
	Interacting
	Verifying
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Interacting:
		return "interacting"
	case Verifying:
		return "verifying"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == Success || s == Failed
}

// Stage tells which success indicator was found, i.e. where the
// surrounding flow continues.
type Stage int

const (
	StageNone Stage = iota
	StagePassword
	StageCaptcha
	StageAccount
)

func (s Stage) String() string {
	switch s {
	case StagePassword:
		return "password"
	case StageCaptcha:
		return "captcha"
	case StageAccount:
		return "account"
	default:
		return "none"
	}
}

// ErrChallengeUnresolved is matched by every *ChallengeError.
var ErrChallengeUnresolved = errors.New("challenge not resolved")

// ChallengeError is returned by Resolver.Resolve when the retry budget is spent.
type ChallengeError struct {
	Attempts int
	Err      error
}

func (e *ChallengeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s after %d attempts", ErrChallengeUnresolved, e.Attempts)
	}
	return fmt.Sprintf("%s after %d attempts: %s", ErrChallengeUnresolved, e.Attempts, e.Err)
}

func (e *ChallengeError) Unwrap() error {
	return e.Err
}

func (e *ChallengeError) Is(target error) bool {
	return target == ErrChallengeUnresolved
}
