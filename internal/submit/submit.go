package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/infodancer/groupmail/internal/directory"
	"github.com/infodancer/groupmail/internal/rspamd"
	"github.com/infodancer/groupmail/internal/sendas"
)

var (
	// ErrNotAuthorized is returned when the acting user may not send as the group.
	ErrNotAuthorized = errors.New("not authorized to send as this group")

	// ErrSpam is returned when the content scan rejects the message.
	ErrSpam = errors.New("message rejected as spam")

	// ErrScanDeferred is returned when the content scan asks to retry later,
	// or cannot be reached and the scan does not fail open.
	ErrScanDeferred = errors.New("content scan deferred the message")
)

// ContentScanner checks a rendered message before it is submitted.
type ContentScanner interface {
	Scan(ctx context.Context, msg []byte, req rspamd.Request) (rspamd.Verdict, error)
}

// Config configures a Submitter.
type Config struct {
	// Domain qualifies group and user account names into addresses.
	Domain string
	// Hostname is used for Message-ID generation. Defaults to Domain.
	Hostname string
	// StagingRoot is the directory the daemon stages request files under.
	// Body and attachment paths outside of it are refused.
	StagingRoot string
}

// Report describes a submitted message.
type Report struct {
	MessageID       string
	Group           string
	Recipients      int
	Attachments     int
	AttachmentBytes int64
}

// String renders the report as the line printed for the user.
func (r Report) String() string {
	s := fmt.Sprintf("E-mail sent as %s to %d recipient", r.Group, r.Recipients)
	if r.Recipients != 1 {
		s += "s"
	}
	if r.Attachments > 0 {
		s += fmt.Sprintf(" with %d attachment", r.Attachments)
		if r.Attachments != 1 {
			s += "s"
		}
		s += fmt.Sprintf(" (%s)", humanize.Bytes(uint64(r.AttachmentBytes)))
	}
	return s + "."
}

// Submitter authorizes, composes, signs and submits one helper invocation.
type Submitter struct {
	cfg       Config
	dir       directory.Directory
	transport Transport
	signer    *Signer
	scanner   ContentScanner
	failOpen  bool
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithSigner DKIM-signs every message with s.
func WithSigner(s *Signer) Option {
	return func(sub *Submitter) {
		sub.signer = s
	}
}

// WithScanner scans every message with sc before it is signed. With
// failOpen set, messages are sent when the scanner cannot be reached.
func WithScanner(sc ContentScanner, failOpen bool) Option {
	return func(sub *Submitter) {
		sub.scanner = sc
		sub.failOpen = failOpen
	}
}

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(sub *Submitter) {
		sub.logger = l
	}
}

// WithClock sets the time source for the Date header.
func WithClock(now func() time.Time) Option {
	return func(sub *Submitter) {
		sub.now = now
	}
}

// New creates a Submitter.
func New(cfg Config, dir directory.Directory, transport Transport, opts ...Option) *Submitter {
	if cfg.Hostname == "" {
		cfg.Hostname = cfg.Domain
	}
	s := &Submitter{
		cfg:       cfg,
		dir:       dir,
		transport: transport,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit sends the message described by inv on behalf of inv.ActingUser.
func (s *Submitter) Submit(ctx context.Context, inv sendas.Invocation, env sendas.Environment) (Report, error) {
	group, err := directory.Authorize(ctx, s.dir, inv.ActingUser, inv.Group)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}

	if err := checkStaged(s.cfg.StagingRoot, inv); err != nil {
		return Report{}, err
	}

	from := s.qualify(group.Account)
	composed, err := Compose(Draft{
		From:            from,
		FromName:        group.Name,
		Sender:          s.qualify(inv.ActingUser),
		Recipients:      inv.Recipients,
		DisplayNames:    inv.DisplayNames,
		Subject:         inv.Subject,
		BodyFile:        inv.BodyFile,
		Attachments:     inv.Attachments,
		ClientIP:        env.ClientIP,
		ForwardedIP:     env.ForwardedIP,
		Date:            s.now(),
		MessageIDDomain: s.cfg.Hostname,
	})
	if err != nil {
		return Report{}, err
	}

	if err := s.scan(ctx, composed, from, inv, env); err != nil {
		return Report{}, err
	}

	msg := composed.Raw
	if s.signer != nil {
		if msg, err = s.signer.Sign(msg); err != nil {
			return Report{}, err
		}
	}

	creds := Credentials{Username: inv.ActingUser, Secret: env.SessionCredential}
	if err := s.transport.Send(ctx, Envelope{From: from, To: inv.Recipients}, msg, creds); err != nil {
		return Report{}, err
	}

	s.logger.Info("group mail submitted",
		slog.String("message_id", composed.MessageID),
		slog.String("group", group.Account),
		slog.String("user", inv.ActingUser),
		slog.Int("recipients", len(inv.Recipients)),
		slog.Int("size", len(msg)))

	return Report{
		MessageID:       composed.MessageID,
		Group:           group.Name,
		Recipients:      len(inv.Recipients),
		Attachments:     len(inv.Attachments),
		AttachmentBytes: composed.AttachmentBytes,
	}, nil
}

func (s *Submitter) scan(ctx context.Context, c *Composed, from string, inv sendas.Invocation, env sendas.Environment) error {
	if s.scanner == nil {
		return nil
	}

	v, err := s.scanner.Scan(ctx, c.Raw, rspamd.Request{
		From:       from,
		Recipients: inv.Recipients,
		ClientIP:   env.ClientIP,
		User:       inv.ActingUser,
		QueueID:    c.MessageID,
	})
	if err != nil {
		if s.failOpen {
			s.logger.Warn("content scan unavailable, sending unscanned", slog.String("error", err.Error()))
			return nil
		}
		return fmt.Errorf("%w: %w", ErrScanDeferred, err)
	}

	switch {
	case v.Rejected():
		s.logger.Info("message rejected by content scan",
			slog.String("message_id", c.MessageID),
			slog.Float64("score", v.Score),
			slog.Any("symbols", v.Symbols))
		return fmt.Errorf("%w (score %.1f of %.1f)", ErrSpam, v.Score, v.RequiredScore)
	case v.Deferred():
		return fmt.Errorf("%w: %s", ErrScanDeferred, v.Action)
	}
	return nil
}

func (s *Submitter) qualify(account string) string {
	return account + "@" + s.cfg.Domain
}
