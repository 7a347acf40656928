package submit

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/infodancer/groupmail/internal/config"
)

// captureBackend is a go-smtp backend that records what it receives.
type captureBackend struct {
	mu       sync.Mutex
	username string
	password string
	from     string
	to       []string
	data     []byte
}

func (b *captureBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &captureSession{b: b}, nil
}

type captureSession struct {
	b *captureBackend
}

func (s *captureSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *captureSession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, smtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if password != "session-secret" {
			return errors.New("invalid credentials")
		}
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		s.b.username = username
		s.b.password = password
		return nil
	}), nil
}

func (s *captureSession) Mail(from string, opts *smtp.MailOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.from = from
	return nil
}

func (s *captureSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.to = append(s.b.to, to)
	return nil
}

func (s *captureSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.data = data
	return nil
}

func (s *captureSession) Reset() {}

func (s *captureSession) Logout() error { return nil }

func startSMTPServer(t *testing.T) (*captureBackend, string) {
	t.Helper()

	be := &captureBackend{}
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = srv.Serve(l)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})
	return be, l.Addr().String()
}

func TestSMTPTransportSend(t *testing.T) {
	be, addr := startSMTPServer(t)

	tr := &SMTPTransport{Address: addr, TLS: "none", Auth: "plain"}
	msg := []byte("Subject: hi\r\n\r\nhello\r\n")
	env := Envelope{From: "teachers@school.example", To: []string{"jane@example.org", "ops@example.org"}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Send(ctx, env, msg, Credentials{Username: "alice", Secret: "session-secret"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	be.mu.Lock()
	defer be.mu.Unlock()
	if be.username != "alice" {
		t.Errorf("authenticated as %q, want alice", be.username)
	}
	if be.from != env.From {
		t.Errorf("MAIL FROM = %q", be.from)
	}
	if len(be.to) != 2 || be.to[0] != "jane@example.org" || be.to[1] != "ops@example.org" {
		t.Errorf("RCPT TO = %v", be.to)
	}
	if string(be.data) != string(msg) {
		t.Errorf("DATA = %q, want %q", be.data, msg)
	}
}

func TestSMTPTransportRejectsBadCredentials(t *testing.T) {
	be, addr := startSMTPServer(t)

	tr := &SMTPTransport{Address: addr, TLS: "none", Auth: "plain"}
	err := tr.Send(context.Background(), Envelope{From: "a@b", To: []string{"c@d"}}, []byte("\r\n"), Credentials{Username: "alice", Secret: "wrong"})
	if err == nil {
		t.Fatal("expected authentication error")
	}

	be.mu.Lock()
	defer be.mu.Unlock()
	if be.data != nil {
		t.Error("message accepted despite failed authentication")
	}
}

func TestSMTPTransportBadAddress(t *testing.T) {
	tr := &SMTPTransport{Address: "no-port", TLS: "none"}
	if err := tr.Send(context.Background(), Envelope{}, nil, Credentials{}); err == nil {
		t.Error("expected error for address without port")
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{}, nil
}

func TestSESTransportSend(t *testing.T) {
	client := &fakeSES{}
	tr := NewSESTransportWithClient(client)

	msg := []byte("Subject: hi\r\n\r\nhello\r\n")
	env := Envelope{From: "teachers@school.example", To: []string{"jane@example.org"}}
	if err := tr.Send(context.Background(), env, msg, Credentials{}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	in := client.input
	if in == nil || in.FromEmailAddress == nil || *in.FromEmailAddress != env.From {
		t.Fatalf("input = %+v", in)
	}
	if len(in.Destination.ToAddresses) != 1 || in.Destination.ToAddresses[0] != "jane@example.org" {
		t.Errorf("destination = %+v", in.Destination)
	}
	if in.Content == nil || in.Content.Raw == nil || string(in.Content.Raw.Data) != string(msg) {
		t.Errorf("raw content = %+v", in.Content)
	}
}

func TestSESTransportError(t *testing.T) {
	tr := NewSESTransportWithClient(&fakeSES{err: errors.New("throttled")})
	if err := tr.Send(context.Background(), Envelope{From: "a@b", To: []string{"c@d"}}, nil, Credentials{}); err == nil {
		t.Error("expected error")
	}
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport(context.Background(), config.SubmissionConfig{
		Transport: config.TransportSMTP, Address: "mail.example:587", TLS: "starttls", Auth: "oauthbearer",
	})
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	st, ok := tr.(*SMTPTransport)
	if !ok || st.Address != "mail.example:587" || st.Auth != "oauthbearer" {
		t.Errorf("transport = %#v", tr)
	}

	if _, err := NewTransport(context.Background(), config.SubmissionConfig{Transport: "pigeon"}); err == nil {
		t.Error("expected error for unknown transport")
	}
}

func TestSASLClientSelection(t *testing.T) {
	creds := Credentials{Username: "alice", Secret: "s"}
	tests := []struct {
		auth string
		mech string
	}{
		{"plain", sasl.Plain},
		{"oauthbearer", sasl.OAuthBearer},
		{"none", ""},
	}
	for _, tt := range tests {
		c := (&SMTPTransport{Auth: tt.auth}).saslClient("mail.example", "587", creds)
		if tt.mech == "" {
			if c != nil {
				t.Errorf("auth %q: expected no client", tt.auth)
			}
			continue
		}
		mech, _, err := c.Start()
		if err != nil || mech != tt.mech {
			t.Errorf("auth %q: Start() = %q, %v", tt.auth, mech, err)
		}
	}
}
