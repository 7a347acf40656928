// Command mail-send-as-group composes and submits one message on behalf of a
// group. It is run by groupmaild through a privilege wrapper with a fixed
// argument list:
//
//	mail-send-as-group <user> <group> <recipients> <display-names> <subject> <body-file> <attachments>
//
// and an environment holding only LC_ALL, IP, IPFWD and SESSPW. Each line on
// stdout is shown to the user as a success note, each line on stderr as an
// error. Exit status 0 means the message was accepted for delivery.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/infodancer/groupmail/internal/config"
	"github.com/infodancer/groupmail/internal/directory"
	"github.com/infodancer/groupmail/internal/rspamd"
	"github.com/infodancer/groupmail/internal/sendas"
	"github.com/infodancer/groupmail/internal/submit"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	inv, err := sendas.ParseInvocation(args)
	if err != nil {
		fmt.Fprintln(stderr, "usage: mail-send-as-group <user> <group> <recipients> <display-names> <subject> <body-file> <attachments>")
		return exitUsage
	}

	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		fmt.Fprintln(stderr, "Mail configuration could not be read.")
		return exitFailure
	}
	if err := cfg.ValidateSubmission(); err != nil {
		fmt.Fprintln(stderr, "Mail configuration is invalid.")
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := send(ctx, cfg, inv, sendas.EnvironmentFrom(os.LookupEnv))
	if err != nil {
		fmt.Fprintln(stderr, describe(err))
		return exitFailure
	}

	fmt.Fprintln(stdout, report.String())
	return 0
}

func send(ctx context.Context, cfg config.Config, inv sendas.Invocation, env sendas.Environment) (submit.Report, error) {
	transport, err := submit.NewTransport(ctx, cfg.Submission)
	if err != nil {
		return submit.Report{}, err
	}
	signer, err := submit.LoadSigner(cfg.Submission.DKIM)
	if err != nil {
		return submit.Report{}, err
	}

	// stderr belongs to the user, so the helper does not log.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := []submit.Option{submit.WithSigner(signer), submit.WithLogger(logger)}
	if scan := cfg.Submission.Scan; scan.URL != "" {
		scanner := rspamd.NewScanner(scan.URL, scan.Password, scan.GetTimeout())
		opts = append(opts, submit.WithScanner(scanner, scan.FailOpen))
	}

	s := submit.New(
		submit.Config{Domain: cfg.LocalDomain, Hostname: cfg.Hostname, StagingRoot: cfg.Staging.Root},
		directory.NewStatic(cfg.Directory),
		transport,
		opts...,
	)
	return s.Submit(ctx, inv, env)
}

func describe(err error) string {
	switch {
	case errors.Is(err, directory.ErrNotMember), errors.Is(err, directory.ErrNotPrivileged):
		return "You are not allowed to send e-mails as this group."
	case errors.Is(err, directory.ErrUnknownGroup), errors.Is(err, directory.ErrNotSender):
		return "This group cannot send e-mails."
	case errors.Is(err, submit.ErrSpam):
		return "The message was rejected by the spam filter."
	case errors.Is(err, submit.ErrScanDeferred):
		return "The message could not be checked by the spam filter. Please try again later."
	default:
		return "Sending the e-mail failed."
	}
}
