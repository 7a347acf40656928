// Package address parses a single recipient entry typed into the send form
// into a qualified mailbox and a display name.
package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
)

// ErrParse is returned when an entry does not yield exactly one address.
var ErrParse = errors.New("invalid recipient address")

// Parsed is one recipient.
type Parsed struct {
	Mailbox     string
	Host        string
	DisplayName string
}

// Address returns mailbox@host.
func (p Parsed) Address() string {
	return p.Mailbox + "@" + p.Host
}

// Parse parses raw as an RFC 5322 address. A mailbox without a domain is
// qualified with localDomain. When the entry carries no display name, the
// quoted address itself is used.
func Parse(raw, localDomain string) (Parsed, error) {
	entry := strings.TrimSpace(raw)
	if entry == "" {
		return Parsed{}, fmt.Errorf("%w: empty entry", ErrParse)
	}

	addrs, err := mail.ParseAddressList(qualify(entry, localDomain))
	if err != nil {
		return Parsed{}, fmt.Errorf("%w %q: %v", ErrParse, entry, err)
	}
	if len(addrs) != 1 {
		return Parsed{}, fmt.Errorf("%w %q: expected one address, got %d", ErrParse, entry, len(addrs))
	}

	at := strings.LastIndexByte(addrs[0].Address, '@')
	if at <= 0 || at == len(addrs[0].Address)-1 {
		return Parsed{}, fmt.Errorf("%w %q: missing mailbox or host", ErrParse, entry)
	}

	p := Parsed{
		Mailbox: addrs[0].Address[:at],
		Host:    addrs[0].Address[at+1:],
	}
	if name := addrs[0].Name; name != "" {
		p.DisplayName = name
	} else {
		p.DisplayName = `"` + p.Address() + `"`
	}
	return p, nil
}

// qualify appends @localDomain to a bare mailbox, either the whole entry or
// the part inside angle brackets.
func qualify(entry, localDomain string) string {
	if localDomain == "" {
		return entry
	}

	open := strings.LastIndexByte(entry, '<')
	if open >= 0 {
		end := strings.IndexByte(entry[open:], '>')
		if end < 0 {
			return entry
		}
		end += open
		inner := strings.TrimSpace(entry[open+1 : end])
		if inner == "" || strings.ContainsRune(inner, '@') {
			return entry
		}
		return entry[:open+1] + inner + "@" + localDomain + entry[end:]
	}

	if strings.ContainsAny(entry, "@,;:\" \t") {
		return entry
	}
	return entry + "@" + localDomain
}
