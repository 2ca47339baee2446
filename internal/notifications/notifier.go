package notifications

import "context"

// Message is a plain-text email.
type Message struct {
	To      string
	From    string
	Subject string
	Text    string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
