package mailer

import (
	"context"
)

// Message is a single mailbox entry which produced (or was checked for)
// a verification code.
type Message struct {
	// ID is a source specific handle: temp mailbox id, IMAP UID or POP3 sequence number.
	ID      string
	From    string
	To      string
	Subject string
	Body    string
	Code    string
}

// Source polls a mailbox once per Fetch call.
//
// Fetch returns the message carrying a verification code, ErrNoCodeFound
// when the mailbox was checked without a match, or any other error
// when the check itself failed.
type Source interface {
	Fetch(ctx context.Context) (*Message, error)
}

// Consumer is implemented by sources whose messages should be removed
// once their code has been used.
type Consumer interface {
	Consume(ctx context.Context, msg *Message) error
}
