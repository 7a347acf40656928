// Package submit composes group mail messages and hands them to a submission
// transport. It is the working half of the mail-send-as-group helper.
package submit

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/mail.v2"
)

// Draft is everything needed to compose one message.
type Draft struct {
	// From is the group address and FromName its display name.
	From     string
	FromName string
	// Sender is the address of the acting user.
	Sender string

	Recipients   []string
	DisplayNames []string

	Subject     string
	BodyFile    string
	Attachments []string

	ClientIP    string
	ForwardedIP string

	Date time.Time
	// MessageIDDomain is the right hand side of the generated Message-ID.
	MessageIDDomain string
}

// Composed is a rendered message.
type Composed struct {
	MessageID string
	Raw       []byte
	// AttachmentBytes is the total size of the attached files.
	AttachmentBytes int64
}

var headerLineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Compose renders d as a UTF-8 text/plain message with the attachments
// appended as parts.
func Compose(d Draft) (*Composed, error) {
	if len(d.DisplayNames) != 0 && len(d.DisplayNames) != len(d.Recipients) {
		return nil, fmt.Errorf("%d recipients but %d display names", len(d.Recipients), len(d.DisplayNames))
	}

	body, err := readRegular(d.BodyFile)
	if err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}

	id, err := newMessageID(d.MessageIDDomain)
	if err != nil {
		return nil, err
	}

	m := mail.NewMessage(mail.SetCharset("UTF-8"), mail.SetEncoding(mail.QuotedPrintable))
	m.SetHeader("Message-ID", id)
	m.SetAddressHeader("From", d.From, d.FromName)
	m.SetHeader("Sender", d.Sender)

	to := make([]string, 0, len(d.Recipients))
	for i, addr := range d.Recipients {
		name := ""
		if i < len(d.DisplayNames) && d.DisplayNames[i] != addr {
			name = d.DisplayNames[i]
		}
		if name == "" {
			to = append(to, addr)
			continue
		}
		to = append(to, m.FormatAddress(addr, name))
	}
	m.SetHeader("To", to...)
	m.SetHeader("Subject", headerLineBreaks.Replace(d.Subject))

	date := d.Date
	if date.IsZero() {
		date = time.Now()
	}
	m.SetDateHeader("Date", date)

	if d.ClientIP != "" {
		m.SetHeader("X-Originating-IP", "["+d.ClientIP+"]")
	}
	if d.ForwardedIP != "" {
		m.SetHeader("X-Forwarded-For", d.ForwardedIP)
	}

	m.SetBody("text/plain", string(body))

	var attached int64
	for _, path := range d.Attachments {
		data, err := readRegular(path)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", filepath.Base(path), err)
		}
		attached += int64(len(data))
		m.AttachReader(filepath.Base(path), bytes.NewReader(data))
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("rendering message: %w", err)
	}

	return &Composed{MessageID: id, Raw: buf.Bytes(), AttachmentBytes: attached}, nil
}

func newMessageID(domain string) (string, error) {
	if domain == "" {
		domain = "localhost"
	}
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating message id: %w", err)
	}
	return "<" + hex.EncodeToString(b[:]) + "@" + domain + ">", nil
}
