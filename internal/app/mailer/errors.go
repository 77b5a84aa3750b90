package mailer

import (
	"errors"
	"fmt"
)

// ErrNoCodeFound is returned by a Source when the mailbox was checked
// and no message yielded a verification code.
var ErrNoCodeFound = errors.New("no verification code found")

// ErrAcquisitionFailed is matched by every *AcquisitionError.
var ErrAcquisitionFailed = errors.New("verification code acquisition failed")

// TransientError wraps network and protocol failures which are worth
// another attempt.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as *TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or any error in its chain) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AcquisitionError is returned by Acquirer.Acquire once the retry budget is spent.
type AcquisitionError struct {
	Attempts int
	Err      error
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s after %d attempts", ErrAcquisitionFailed, e.Attempts)
	}
	return fmt.Sprintf("%s after %d attempts: %s", ErrAcquisitionFailed, e.Attempts, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

func (e *AcquisitionError) Is(target error) bool {
	return target == ErrAcquisitionFailed
}
