// Package rspamd checks outgoing group mail with an rspamd worker before it
// is submitted.
package rspamd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Action is the action rspamd recommends for a message.
type Action string

const (
	ActionNoAction       Action = "no action"
	ActionGreylist       Action = "greylist"
	ActionAddHeader      Action = "add header"
	ActionRewriteSubject Action = "rewrite subject"
	ActionSoftReject     Action = "soft reject"
	ActionReject         Action = "reject"
)

type checkResponse struct {
	Score         float64                 `json:"score"`
	RequiredScore float64                 `json:"required_score"`
	Action        Action                  `json:"action"`
	IsSpam        bool                    `json:"is_spam"`
	Symbols       map[string]symbolResult `json:"symbols,omitempty"`
}

type symbolResult struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Request describes the envelope of the message being scanned.
type Request struct {
	From       string
	Recipients []string
	// ClientIP is the address of the user's browser.
	ClientIP string
	// User is the authenticated acting user. rspamd applies its outbound
	// rules to authenticated messages.
	User string
	// QueueID shows up in rspamd's history. The Message-ID is used.
	QueueID string
}

// Verdict is the outcome of a scan.
type Verdict struct {
	Action        Action
	Score         float64
	RequiredScore float64
	// Symbols are the names of the rules that scored, highest first.
	Symbols []string
}

// Rejected reports whether the message must not be sent.
func (v Verdict) Rejected() bool {
	return v.Action == ActionReject
}

// Deferred reports whether the message should be retried later.
func (v Verdict) Deferred() bool {
	return v.Action == ActionSoftReject || v.Action == ActionGreylist
}

// Scanner talks to the rspamd normal worker over HTTP.
type Scanner struct {
	baseURL    string
	password   string
	httpClient *http.Client
}

// NewScanner creates a Scanner for the worker at baseURL.
func NewScanner(baseURL string, password string, timeout time.Duration) *Scanner {
	return &Scanner{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Scan submits msg to /checkv2.
func (s *Scanner) Scan(ctx context.Context, msg []byte, r Request) (Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/checkv2", bytes.NewReader(msg))
	if err != nil {
		return Verdict{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "text/plain")
	if r.From != "" {
		req.Header.Set("From", r.From)
	}
	for _, rcpt := range r.Recipients {
		req.Header.Add("Rcpt", rcpt)
	}
	if r.ClientIP != "" {
		req.Header.Set("IP", r.ClientIP)
	}
	if r.User != "" {
		req.Header.Set("User", r.User)
	}
	if r.QueueID != "" {
		req.Header.Set("Queue-Id", r.QueueID)
	}
	if s.password != "" {
		req.Header.Set("Password", s.password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("sending request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Verdict{}, fmt.Errorf("rspamd returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cr checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Verdict{}, fmt.Errorf("decoding response: %w", err)
	}
	return verdictFrom(cr), nil
}

func verdictFrom(cr checkResponse) Verdict {
	v := Verdict{
		Action:        cr.Action,
		Score:         cr.Score,
		RequiredScore: cr.RequiredScore,
	}

	type scored struct {
		name  string
		score float64
	}
	var hits []scored
	for name, sym := range cr.Symbols {
		if sym.Score > 0 {
			hits = append(hits, scored{name, sym.Score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].name < hits[j].name
	})
	for _, h := range hits {
		v.Symbols = append(v.Symbols, h.name)
	}
	return v
}

// Ping checks that the worker is reachable.
func (s *Scanner) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/ping", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if s.password != "" {
		req.Header.Set("Password", s.password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rspamd returned status %d", resp.StatusCode)
	}
	return nil
}
