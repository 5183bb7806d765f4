package email

import (
	"context"
	"log"
)

// LogSender writes emails to the process log instead of delivering them.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

// Send logs the recipient, subject and text body.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	log.Printf("email (log sender, not delivered) to=%s subject=%q\n%s", msg.To, msg.Subject, msg.Text)
	return nil
}
