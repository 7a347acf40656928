package submit

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/infodancer/groupmail/internal/config"
)

// Envelope is the SMTP envelope of a message.
type Envelope struct {
	From string
	To   []string
}

// Credentials authenticate the helper to the submission server on behalf
// of the acting user.
type Credentials struct {
	Username string
	Secret   string
}

// Transport hands a rendered message to the next hop.
type Transport interface {
	Send(ctx context.Context, env Envelope, msg []byte, creds Credentials) error
}

// NewTransport builds the transport selected by cfg.
func NewTransport(ctx context.Context, cfg config.SubmissionConfig) (Transport, error) {
	switch cfg.Transport {
	case config.TransportSMTP, "":
		return &SMTPTransport{Address: cfg.Address, TLS: cfg.TLS, Auth: cfg.Auth}, nil
	case config.TransportSES:
		return NewSESTransport(ctx, cfg.SES)
	default:
		return nil, fmt.Errorf("unknown submission transport %q", cfg.Transport)
	}
}

// SMTPTransport submits messages to an SMTP submission server.
type SMTPTransport struct {
	Address string
	// TLS is "starttls", "tls" or "none".
	TLS string
	// Auth is "plain", "oauthbearer" or "none".
	Auth string
	// TLSConfig overrides the client TLS configuration.
	TLSConfig *tls.Config
}

// Send implements Transport.
func (t *SMTPTransport) Send(ctx context.Context, env Envelope, msg []byte, creds Credentials) error {
	host, port, err := net.SplitHostPort(t.Address)
	if err != nil {
		return fmt.Errorf("submission address %q: %w", t.Address, err)
	}

	tlsConfig := t.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: host}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", t.Address, err)
	}

	var c *smtp.Client
	switch t.TLS {
	case "tls":
		c = smtp.NewClient(tls.Client(conn, tlsConfig))
	case "none":
		c = smtp.NewClient(conn)
	default:
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("starttls with %s: %w", t.Address, err)
		}
	}
	defer func() {
		_ = c.Close()
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if auth := t.saslClient(host, port, creds); auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("authenticating as %s: %w", creds.Username, err)
		}
	}

	if err := c.SendMail(env.From, env.To, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("submitting message: %w", err)
	}
	return c.Quit()
}

func (t *SMTPTransport) saslClient(host, port string, creds Credentials) sasl.Client {
	switch t.Auth {
	case "plain":
		return sasl.NewPlainClient("", creds.Username, creds.Secret)
	case "oauthbearer":
		p, _ := strconv.Atoi(port)
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: creds.Username,
			Token:    creds.Secret,
			Host:     host,
			Port:     p,
		})
	default:
		return nil
	}
}

// SendEmailAPI is the part of the SES v2 client the transport uses.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport sends raw messages through AWS SES v2. SES authenticates the
// helper itself, so the acting user's credentials are not used.
type SESTransport struct {
	client SendEmailAPI
}

// NewSESTransport loads the AWS configuration for cfg.Region. Static keys
// are used when both are set, otherwise the default credential chain.
func NewSESTransport(ctx context.Context, cfg config.SESConfig) (*SESTransport, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSESTransportWithClient(sesv2.NewFromConfig(awsCfg)), nil
}

// NewSESTransportWithClient wraps an existing client.
func NewSESTransportWithClient(client SendEmailAPI) *SESTransport {
	return &SESTransport{client: client}
}

// Send implements Transport.
func (t *SESTransport) Send(ctx context.Context, env Envelope, msg []byte, _ Credentials) error {
	_, err := t.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From),
		Destination:      &types.Destination{ToAddresses: env.To},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: msg},
		},
	})
	if err != nil {
		return fmt.Errorf("SES send: %w", err)
	}
	return nil
}
