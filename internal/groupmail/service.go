// Package groupmail sends one composed message as a group: it stages the
// body and attachments, validates recipients, runs the privileged helper and
// reports the helper's messages back, always removing the staged files.
package groupmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/infodancer/groupmail/internal/address"
	"github.com/infodancer/groupmail/internal/audit"
	"github.com/infodancer/groupmail/internal/dispatch"
	"github.com/infodancer/groupmail/internal/logging"
	"github.com/infodancer/groupmail/internal/metrics"
	"github.com/infodancer/groupmail/internal/sendas"
	"github.com/infodancer/groupmail/internal/staging"
)

var (
	// ErrNoRecipients is returned when no recipient entry is left after
	// dropping blank ones.
	ErrNoRecipients = errors.New("no recipients")

	// ErrTooManyRecipients is returned when the configured recipient limit
	// is exceeded.
	ErrTooManyRecipients = errors.New("too many recipients")
)

// Group identifies the group a message is sent as.
type Group struct {
	Account string
	Name    string
}

// SendRequest is one message to send. The caller has already checked that
// ActingUser may send as Group.
type SendRequest struct {
	ActingUser        string
	Group             Group
	Subject           string
	Body              string
	Recipients        []string
	Attachments       []staging.Attachment
	CallerIP          string
	ForwardedIP       string
	SessionCredential string
}

// Result is what the helper reported.
type Result struct {
	Success  []string
	Errors   []string
	ExitCode int
	State    State
}

// OK reports whether the message was accepted.
func (r Result) OK() bool {
	return r.ExitCode == 0 && r.State == StateCompleted
}

// Stager stages request files.
type Stager interface {
	Stage(body string, attachments []staging.Attachment) (*staging.Area, error)
}

// Dispatcher runs the helper.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Config holds the service settings.
type Config struct {
	// LocalDomain qualifies recipients given without a domain.
	LocalDomain string
	// MaxRecipients bounds the recipients per message. Zero is unlimited.
	MaxRecipients int
}

// Option configures a Service.
type Option func(*Service)

// WithAuditSink sets where records of sent messages go.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Service) {
		s.metrics = c
	}
}

// WithClock replaces time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service sends group mail.
type Service struct {
	cfg        Config
	stager     Stager
	dispatcher Dispatcher
	sink       audit.Sink
	metrics    metrics.Collector
	now        func() time.Time
}

// NewService creates a Service.
func NewService(cfg Config, stager Stager, dispatcher Dispatcher, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		stager:     stager,
		dispatcher: dispatcher,
		sink:       audit.NoopSink{},
		metrics:    &metrics.NoopCollector{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send stages, validates and dispatches req in a single attempt. The staged
// files are removed before Send returns on every path. A helper that rejects
// the message is reported in Result with a nil error.
func (s *Service) Send(ctx context.Context, req SendRequest) (res Result, err error) {
	logger := logging.WithSender(logging.FromContext(ctx), req.ActingUser, req.Group.Account)
	ctx = logging.NewContext(ctx, logger)

	tr := &tracker{logger: logger, state: StateReceived}

	area, err := s.stager.Stage(req.Body, req.Attachments)
	if err != nil {
		s.metrics.StagingFailed(stagingReason(err))
		tr.to(StateCleaned)
		tr.to(StateFailed)
		s.metrics.SendCompleted(req.Group.Account, "failed")
		return Result{ExitCode: -1, State: StateFailed}, fmt.Errorf("staging message: %w", err)
	}
	tr.to(StateStaged)
	s.metrics.AttachmentsStaged(len(area.Attachments), area.AttachmentBytes())

	defer func() {
		dispatched := tr.state == StateDispatched
		if rerr := area.Release(); rerr != nil {
			logger.Warn("failed to remove staging area",
				slog.String("path", area.Path),
				slog.String("error", rerr.Error()))
		}
		tr.to(StateCleaned)

		outcome := "success"
		switch {
		case err != nil, !dispatched:
			outcome = "failed"
		case res.ExitCode != 0:
			outcome = "rejected"
		}
		if outcome == "success" {
			tr.to(StateCompleted)
		} else {
			tr.to(StateFailed)
		}
		res.State = tr.state
		s.metrics.SendCompleted(req.Group.Account, outcome)
	}()

	parsed, err := s.parseRecipients(req.Recipients)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	tr.to(StateAddressesValidated)

	inv := sendas.Invocation{
		ActingUser:  req.ActingUser,
		Group:       req.Group.Account,
		Subject:     req.Subject,
		BodyFile:    area.BodyFile,
		Attachments: area.AttachmentFiles(),
	}
	for _, p := range parsed {
		inv.Recipients = append(inv.Recipients, p.Address())
		inv.DisplayNames = append(inv.DisplayNames, p.DisplayName)
	}

	dres, err := s.dispatcher.Dispatch(ctx, dispatch.Request{
		Invocation:        inv,
		ClientIP:          req.CallerIP,
		ForwardedIP:       req.ForwardedIP,
		SessionCredential: req.SessionCredential,
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrHelperInvocation) {
			s.metrics.HelperInvocationFailed()
		}
		return Result{ExitCode: -1}, err
	}
	tr.to(StateDispatched)
	s.metrics.HelperCompleted(dres.ExitCode, dres.Duration)

	res = Result{
		Success:  dres.Stdout,
		Errors:   dres.Stderr,
		ExitCode: dres.ExitCode,
	}

	if dres.ExitCode == 0 {
		s.publish(ctx, req, parsed, area)
	} else {
		logger.Info("helper rejected message", slog.Int("exit_code", dres.ExitCode))
	}
	return res, nil
}

func (s *Service) parseRecipients(raw []string) ([]address.Parsed, error) {
	var parsed []address.Parsed
	for _, entry := range raw {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		p, err := address.Parse(entry, s.cfg.LocalDomain)
		if err != nil {
			s.metrics.RecipientRejected()
			return nil, err
		}
		parsed = append(parsed, p)
	}

	if len(parsed) == 0 {
		return nil, ErrNoRecipients
	}
	if s.cfg.MaxRecipients > 0 && len(parsed) > s.cfg.MaxRecipients {
		return nil, fmt.Errorf("%w: %d given, at most %d allowed", ErrTooManyRecipients, len(parsed), s.cfg.MaxRecipients)
	}
	s.metrics.RecipientsAccepted(len(parsed))
	return parsed, nil
}

// publish hands the record of a sent message to the audit sink. The message
// is already out, so failures are only logged.
func (s *Service) publish(ctx context.Context, req SendRequest, parsed []address.Parsed, area *staging.Area) {
	rec := audit.Record{
		Subject:     req.Subject,
		Body:        req.Body,
		SenderGroup: req.Group.Account,
		ActingUser:  req.ActingUser,
		Time:        s.now(),
	}
	for _, p := range parsed {
		rec.Recipients = append(rec.Recipients, audit.Recipient{
			Address:     p.Address(),
			DisplayName: p.DisplayName,
		})
	}
	for _, f := range area.Attachments {
		rec.Attachments = append(rec.Attachments, audit.Attachment{
			Name:     f.OriginalName,
			MIMEType: f.MIMEType,
			Size:     f.Size,
		})
	}

	err := s.sink.Publish(ctx, rec)
	s.metrics.AuditPublished(err == nil)
	if err != nil {
		logging.FromContext(ctx).Error("failed to publish audit record",
			slog.String("error", err.Error()))
	}
}

func stagingReason(err error) string {
	switch {
	case errors.Is(err, staging.ErrRootUnwritable):
		return "root_unwritable"
	case errors.Is(err, staging.ErrCollision):
		return "collision"
	case errors.Is(err, staging.ErrAttachmentName):
		return "attachment_name"
	case errors.Is(err, staging.ErrTooLarge):
		return "too_large"
	default:
		return "io"
	}
}
