// Package sendas defines the command line and environment contract between
// the group mail daemon and the privileged mail-send-as-group helper.
package sendas

import (
	"errors"
	"fmt"
	"strings"
)

// Positional argument indexes of a helper invocation.
const (
	ArgActingUser = iota
	ArgGroup
	ArgRecipients
	ArgDisplayNames
	ArgSubject
	ArgBodyFile
	ArgAttachments

	// ArgCount is the exact number of arguments the helper accepts.
	ArgCount
)

// Environment variables passed to the helper. Nothing else is inherited.
const (
	EnvLocale            = "LC_ALL"
	EnvClientIP          = "IP"
	EnvForwardedIP       = "IPFWD"
	EnvSessionCredential = "SESSPW"
)

// DefaultLocale is used when no locale is configured.
const DefaultLocale = "en_US.UTF-8"

// ErrInvalid is returned for invocations that cannot be encoded or decoded.
var ErrInvalid = errors.New("invalid helper invocation")

// Invocation is the decoded argument list of one helper run.
type Invocation struct {
	ActingUser   string
	Group        string
	Recipients   []string
	DisplayNames []string
	Subject      string
	BodyFile     string
	Attachments  []string
}

// Validate checks that the invocation can be encoded without ambiguity.
func (inv Invocation) Validate() error {
	if inv.ActingUser == "" || inv.Group == "" || inv.BodyFile == "" {
		return fmt.Errorf("%w: acting user, group and body file are required", ErrInvalid)
	}
	if len(inv.Recipients) == 0 {
		return fmt.Errorf("%w: no recipients", ErrInvalid)
	}
	if len(inv.Recipients) != len(inv.DisplayNames) {
		return fmt.Errorf("%w: %d recipients but %d display names", ErrInvalid, len(inv.Recipients), len(inv.DisplayNames))
	}
	for _, r := range inv.Recipients {
		if r == "" || strings.ContainsRune(r, ',') {
			return fmt.Errorf("%w: recipient %q", ErrInvalid, r)
		}
	}
	for _, a := range inv.Attachments {
		if a == "" || strings.ContainsRune(a, ',') {
			return fmt.Errorf("%w: attachment path %q", ErrInvalid, a)
		}
	}
	for _, arg := range inv.Args() {
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("%w: argument contains NUL byte", ErrInvalid)
		}
	}
	return nil
}

// Args encodes the invocation as the helper's positional arguments.
func (inv Invocation) Args() []string {
	args := make([]string, ArgCount)
	args[ArgActingUser] = inv.ActingUser
	args[ArgGroup] = inv.Group
	args[ArgRecipients] = strings.Join(inv.Recipients, ",")
	args[ArgDisplayNames] = JoinDisplayNames(inv.DisplayNames)
	args[ArgSubject] = inv.Subject
	args[ArgBodyFile] = inv.BodyFile
	args[ArgAttachments] = strings.Join(inv.Attachments, ",")
	return args
}

// ParseInvocation decodes the helper's positional arguments.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) != ArgCount {
		return Invocation{}, fmt.Errorf("%w: expected %d arguments, got %d", ErrInvalid, ArgCount, len(args))
	}

	names, err := SplitDisplayNames(args[ArgDisplayNames])
	if err != nil {
		return Invocation{}, err
	}

	inv := Invocation{
		ActingUser:   args[ArgActingUser],
		Group:        args[ArgGroup],
		Recipients:   SplitList(args[ArgRecipients]),
		DisplayNames: names,
		Subject:      args[ArgSubject],
		BodyFile:     args[ArgBodyFile],
		Attachments:  SplitList(args[ArgAttachments]),
	}
	if err := inv.Validate(); err != nil {
		return Invocation{}, err
	}
	return inv, nil
}

// SplitList splits a comma separated list. The empty string is the empty list.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// JoinDisplayNames joins names with commas. A name that is already a
// complete quoted string is written unchanged. Other names are quoted with
// backslash escapes only when they contain a comma or begin with a double
// quote.
func JoinDisplayNames(names []string) string {
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		if isQuoted(name) || !(strings.ContainsRune(name, ',') || strings.HasPrefix(name, `"`)) {
			b.WriteString(name)
			continue
		}
		b.WriteByte('"')
		for _, r := range name {
			if r == '"' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('"')
	}
	return b.String()
}

// isQuoted reports whether s is one double-quoted string with no unescaped
// quote inside.
func isQuoted(s string) bool {
	if len(s) < 2 || s[0] != '"' {
		return false
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i == len(s)-1
		}
	}
	return false
}

// SplitDisplayNames splits a list written by JoinDisplayNames. Quoted
// entries are returned without their quotes and escapes.
func SplitDisplayNames(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}

	var names []string
	for i := 0; ; {
		if i < len(s) && s[i] == '"' {
			var b strings.Builder
			i++
			closed := false
			for i < len(s) {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					b.WriteByte(s[i+1])
					i += 2
					continue
				}
				i++
				if c == '"' {
					closed = true
					break
				}
				b.WriteByte(c)
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quoted display name", ErrInvalid)
			}
			if i < len(s) && s[i] != ',' {
				return nil, fmt.Errorf("%w: text after quoted display name", ErrInvalid)
			}
			names = append(names, b.String())
		} else {
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				end = len(s) - i
			}
			names = append(names, s[i:i+end])
			i += end
		}

		if i >= len(s) {
			return names, nil
		}
		// skip the separator
		i++
		if i == len(s) {
			return append(names, ""), nil
		}
	}
}

// Environment carries the values passed to the helper via its environment.
type Environment struct {
	Locale            string
	ClientIP          string
	ForwardedIP       string
	SessionCredential string
}

// Pairs returns the helper's complete environment as KEY=value pairs.
// IPFWD is only present when a forwarded address is known.
func (e Environment) Pairs() []string {
	locale := e.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	env := []string{
		EnvLocale + "=" + locale,
		EnvClientIP + "=" + e.ClientIP,
	}
	if e.ForwardedIP != "" {
		env = append(env, EnvForwardedIP+"="+e.ForwardedIP)
	}
	env = append(env, EnvSessionCredential+"="+e.SessionCredential)
	return env
}

// EnvironmentFrom reads the helper environment through lookup, usually
// os.LookupEnv.
func EnvironmentFrom(lookup func(string) (string, bool)) Environment {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}
	return Environment{
		Locale:            get(EnvLocale),
		ClientIP:          get(EnvClientIP),
		ForwardedIP:       get(EnvForwardedIP),
		SessionCredential: get(EnvSessionCredential),
	}
}
