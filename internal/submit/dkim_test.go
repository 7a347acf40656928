package submit

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/infodancer/groupmail/internal/config"
)

func TestSignerVerifies(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	keyFile := filepath.Join(t.TempDir(), "dkim.pem")
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}

	signer, err := LoadSigner(config.DKIMConfig{Domain: "school.example", Selector: "gm", KeyFile: keyFile})
	if err != nil {
		t.Fatalf("LoadSigner() error = %v", err)
	}

	c, err := Compose(testDraft(t))
	if err != nil {
		t.Fatal(err)
	}
	signed, err := signer.Sign(c.Raw)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	record := "v=DKIM1; k=ed25519; p=" + base64.StdEncoding.EncodeToString(pub)
	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			if domain != "gm._domainkey.school.example" {
				t.Errorf("unexpected lookup of %q", domain)
			}
			return []string{record}, nil
		},
	})
	if err != nil {
		t.Fatalf("VerifyWithOptions() error = %v", err)
	}
	if len(verifications) != 1 || verifications[0].Err != nil {
		t.Fatalf("verifications = %+v", verifications)
	}
	if verifications[0].Domain != "school.example" {
		t.Errorf("signing domain = %q", verifications[0].Domain)
	}
}

func TestLoadSigner(t *testing.T) {
	s, err := LoadSigner(config.DKIMConfig{})
	if err != nil || s != nil {
		t.Errorf("LoadSigner(empty) = %v, %v; want nil, nil", s, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(bad, []byte("not a key"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSigner(config.DKIMConfig{Domain: "d", Selector: "s", KeyFile: bad}); err == nil {
		t.Error("expected error for invalid key file")
	}

	if _, err := LoadSigner(config.DKIMConfig{Domain: "d", Selector: "s", KeyFile: filepath.Join(t.TempDir(), "missing.pem")}); err == nil {
		t.Error("expected error for missing key file")
	}
}
