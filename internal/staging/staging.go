// Package staging writes the message body and attachments of one send request
// into a private per-request directory that the privileged helper reads from.
package staging

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sys/unix"
)

// BodyFileName is the name of the staged message body inside the area.
const BodyFileName = "content.txt"

// Token range for per-request directory names.
const (
	MinToken = 1000
	MaxToken = 1<<31 - 1
)

var (
	// ErrRootUnwritable is returned when the shared staging root cannot be
	// created or is not a private directory writable by this process.
	ErrRootUnwritable = errors.New("staging root is not writable")

	// ErrCollision is returned when the per-request directory already exists.
	ErrCollision = errors.New("staging directory already exists")

	// ErrAttachmentName is returned for attachment names that cannot be stored.
	ErrAttachmentName = errors.New("invalid attachment name")

	// ErrTooLarge is returned when a configured staging limit is exceeded.
	ErrTooLarge = errors.New("staged content exceeds limit")
)

// TokenSource returns the number naming the next per-request directory.
type TokenSource func() (int64, error)

// RandomToken draws a token uniformly from [MinToken, MaxToken].
func RandomToken() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(MaxToken-MinToken+1))
	if err != nil {
		return 0, err
	}
	return n.Int64() + MinToken, nil
}

// Attachment is an uploaded file to stage.
type Attachment struct {
	Name    string
	Content io.Reader
}

// FileInfo describes one staged attachment.
type FileInfo struct {
	// OriginalName is the name as uploaded.
	OriginalName string
	// Name is the file name used inside the staging area.
	Name     string
	Path     string
	MIMEType string
	Size     int64
}

// Option configures a Stager.
type Option func(*Stager)

// WithTokenSource replaces the random directory token source.
func WithTokenSource(ts TokenSource) Option {
	return func(s *Stager) {
		s.token = ts
	}
}

// WithLimits bounds the number of attachments and the total number of bytes
// staged per request. Zero disables a limit.
func WithLimits(maxAttachments int, maxBytes int64) Option {
	return func(s *Stager) {
		s.maxAttachments = maxAttachments
		s.maxBytes = maxBytes
	}
}

// Stager creates staging areas beneath a shared root directory.
type Stager struct {
	root           string
	token          TokenSource
	maxAttachments int
	maxBytes       int64
}

// New returns a Stager rooted at root.
func New(root string, opts ...Option) *Stager {
	s := &Stager{
		root:  root,
		token: RandomToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the shared staging root.
func (s *Stager) Root() string {
	return s.root
}

// Stage writes body and attachments into a new per-request directory.
// On error nothing created for the request is left behind.
func (s *Stager) Stage(body string, attachments []Attachment) (*Area, error) {
	if s.maxAttachments > 0 && len(attachments) > s.maxAttachments {
		return nil, fmt.Errorf("%w: %d attachments, at most %d allowed", ErrTooLarge, len(attachments), s.maxAttachments)
	}

	names, err := attachmentNames(attachments)
	if err != nil {
		return nil, err
	}

	if err := s.ensureRoot(); err != nil {
		return nil, err
	}

	token, err := s.token()
	if err != nil {
		return nil, fmt.Errorf("generating staging token: %w", err)
	}

	dir := filepath.Join(s.root, strconv.FormatInt(token, 10))
	if err := os.Mkdir(dir, 0700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrCollision, dir)
		}
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	area := &Area{
		Path:     dir,
		BodyFile: filepath.Join(dir, BodyFileName),
	}

	if err := s.fill(area, body, attachments, names); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	return area, nil
}

func (s *Stager) fill(area *Area, body string, attachments []Attachment, names []string) error {
	remaining := int64(-1)
	if s.maxBytes > 0 {
		remaining = s.maxBytes
	}

	n, _, err := writeFile(area.BodyFile, strings.NewReader(body), remaining)
	if err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	if remaining >= 0 {
		remaining -= n
	}

	for i, att := range attachments {
		path := filepath.Join(area.Path, names[i])
		size, sniffed, err := writeFile(path, att.Content, remaining)
		if err != nil {
			return fmt.Errorf("writing attachment %q: %w", att.Name, err)
		}
		if remaining >= 0 {
			remaining -= size
		}

		area.Attachments = append(area.Attachments, FileInfo{
			OriginalName: att.Name,
			Name:         names[i],
			Path:         path,
			MIMEType:     mimeType(names[i], sniffed),
			Size:         size,
		})
	}
	return nil
}

// ensureRoot creates the shared root if needed and checks that it is a
// directory only this process's user can write to.
func (s *Stager) ensureRoot() error {
	if err := os.MkdirAll(s.root, 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrRootUnwritable, err)
	}

	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRootUnwritable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootUnwritable, s.root)
	}
	if info.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("%w: %s is group or world writable", ErrRootUnwritable, s.root)
	}
	if err := unix.Access(s.root, unix.W_OK); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootUnwritable, s.root, err)
	}
	return nil
}

// writeFile creates path exclusively and copies r into it. A non-negative
// limit caps the number of bytes written. The first bytes are returned for sniffing.
func writeFile(path string, r io.Reader, limit int64) (int64, []byte, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	if limit >= 0 {
		r = io.LimitReader(r, limit+1)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, nil, err
	}
	head = head[:n]

	if _, err := f.Write(head); err != nil {
		return 0, nil, err
	}
	rest, err := io.Copy(f, r)
	if err != nil {
		return 0, nil, err
	}

	size := int64(n) + rest
	if limit >= 0 && size > limit {
		return 0, nil, ErrTooLarge
	}
	if err := f.Close(); err != nil {
		return 0, nil, err
	}
	return size, head, nil
}

func mimeType(name string, head []byte) string {
	sniffed := http.DetectContentType(head)
	if sniffed != "application/octet-stream" {
		return sniffed
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return sniffed
}

// attachmentNames applies the file name policy to every attachment.
func attachmentNames(attachments []Attachment) ([]string, error) {
	names := make([]string, len(attachments))
	seen := make(map[string]bool, len(attachments))
	for i, att := range attachments {
		name := SanitizeName(att.Name)
		switch {
		case name == "", name == ".", name == "..", name == BodyFileName:
			return nil, fmt.Errorf("%w: %q", ErrAttachmentName, att.Name)
		case seen[name]:
			return nil, fmt.Errorf("%w: duplicate %q", ErrAttachmentName, att.Name)
		}
		seen[name] = true
		names[i] = name
	}
	return names, nil
}

// SanitizeName replaces path separators, commas and control characters
// with underscores.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ',' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
}

// Area is one request's staged files.
type Area struct {
	Path        string
	BodyFile    string
	Attachments []FileInfo

	once       sync.Once
	releaseErr error
}

// AttachmentFiles returns the staged attachment paths in upload order.
func (a *Area) AttachmentFiles() []string {
	paths := make([]string, len(a.Attachments))
	for i, f := range a.Attachments {
		paths[i] = f.Path
	}
	return paths
}

// AttachmentBytes returns the combined size of the staged attachments.
func (a *Area) AttachmentBytes() int64 {
	var total int64
	for _, f := range a.Attachments {
		total += f.Size
	}
	return total
}

// Release removes the staging directory. It may be called more than once.
func (a *Area) Release() error {
	a.once.Do(func() {
		if err := os.RemoveAll(a.Path); err != nil {
			a.releaseErr = fmt.Errorf("removing staging directory: %w", err)
		}
	})
	return a.releaseErr
}
