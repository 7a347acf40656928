package submit

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/infodancer/groupmail/internal/config"
)

// signedHeaders are the header fields covered by the DKIM signature.
var signedHeaders = []string{
	"From", "Sender", "To", "Subject", "Date", "Message-ID",
	"MIME-Version", "Content-Type",
}

// Signer adds a DKIM-Signature header to outgoing messages.
type Signer struct {
	domain   string
	selector string
	key      crypto.Signer
}

// LoadSigner reads the private key named by cfg. It returns nil when no
// key file is configured.
func LoadSigner(cfg config.DKIMConfig) (*Signer, error) {
	if cfg.KeyFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading dkim key: %w", err)
	}
	key, err := parsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("dkim key %s: %w", cfg.KeyFile, err)
	}
	return NewSigner(cfg.Domain, cfg.Selector, key), nil
}

// NewSigner returns a Signer for domain and selector.
func NewSigner(domain, selector string, key crypto.Signer) *Signer {
	return &Signer{domain: domain, selector: selector, key: key}
}

// Sign returns msg with a DKIM-Signature header prepended.
func (s *Signer) Sign(msg []byte) ([]byte, error) {
	opts := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		HeaderKeys:             signedHeaders,
	}

	var out bytes.Buffer
	if err := dkim.Sign(&out, bytes.NewReader(msg), opts); err != nil {
		return nil, fmt.Errorf("dkim signing: %w", err)
	}
	return out.Bytes(), nil
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case ed25519.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("unsupported key type %T", key)
		}
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}
