// Package audit publishes a record of every group mail that was sent, for
// the log consumer that stores them for review by group members.
package audit

import (
	"context"
	"time"
)

// Recipient is one addressee of a sent group mail.
type Recipient struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
}

// Attachment describes one file sent with a group mail.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Record is the log entry of one sent group mail.
type Record struct {
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	SenderGroup string       `json:"sender_group"`
	ActingUser  string       `json:"acting_user"`
	Time        time.Time    `json:"time"`
	Recipients  []Recipient  `json:"recipients"`
	Attachments []Attachment `json:"attachments"`
}

// Sink accepts audit records.
type Sink interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// NoopSink discards records.
type NoopSink struct{}

// Publish is a no-op.
func (NoopSink) Publish(ctx context.Context, rec Record) error { return nil }

// Close is a no-op.
func (NoopSink) Close() error { return nil }
