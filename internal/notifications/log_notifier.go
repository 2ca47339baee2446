package notifications

import (
	"context"
	"log/slog"
)

// LogNotifier writes messages to the log instead of delivering them. Used in dev.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.log.InfoContext(ctx, "notification.email",
		"to", msg.To,
		"from", msg.From,
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return nil
}
