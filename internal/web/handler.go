// Package web is the HTTP surface of the group mail service.
package web

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/infodancer/groupmail/internal/address"
	"github.com/infodancer/groupmail/internal/directory"
	"github.com/infodancer/groupmail/internal/groupmail"
	"github.com/infodancer/groupmail/internal/oauth"
	"github.com/infodancer/groupmail/internal/staging"
)

// Form field names of the send endpoint.
const (
	FieldGroup            = "group"
	FieldSubject          = "subject"
	FieldBody             = "body"
	FieldRecipients       = "recipients"
	FieldRecipientsSource = "recipients_source"
	FieldAttachments      = "attachments"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling file parts to disk.
const multipartMemory = 8 << 20

// Sender sends group mail.
type Sender interface {
	Send(ctx context.Context, req groupmail.SendRequest) (groupmail.Result, error)
}

// Config configures the HTTP handler.
type Config struct {
	// MaxRequestSize bounds the request body. Zero is unlimited.
	MaxRequestSize int64
}

type handler struct {
	cfg    Config
	sender Sender
	dir    directory.Directory
}

// NewHandler returns the router serving the group mail endpoints.
func NewHandler(cfg Config, sender Sender, dir directory.Directory, agent oauth.Agent, logger *slog.Logger) http.Handler {
	h := &handler{cfg: cfg, sender: sender, dir: dir}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/groupmails", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/groupmail", http.StatusMovedPermanently)
	})

	r.Route("/groupmail", func(r chi.Router) {
		r.Use(requireBearer(agent))
		r.Get("/groups", h.groups)
		r.With(requireXHR).Post("/send", h.send)
	})

	return r
}

type groupView struct {
	Account string `json:"account"`
	Name    string `json:"name"`
}

// groups lists the groups the caller may send as.
func (h *handler) groups(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	ok, err := h.dir.HasPrivilege(r.Context(), id.Account)
	if err != nil {
		requestLogger(r).Error("privilege lookup failed", slog.String("error", err.Error()))
		writeJSON(w, r, http.StatusInternalServerError, failed(msgUnexpected))
		return
	}
	if !ok {
		writeJSON(w, r, http.StatusForbidden, failed("You are not allowed to send e-mails as a group."))
		return
	}

	groups, err := h.dir.SenderGroups(r.Context(), id.Account)
	if err != nil {
		requestLogger(r).Error("group lookup failed", slog.String("error", err.Error()))
		writeJSON(w, r, http.StatusInternalServerError, failed(msgUnexpected))
		return
	}

	views := make([]groupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, groupView{Account: g.Account, Name: g.Name})
	}
	writeJSON(w, r, http.StatusOK, views)
}

func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)
	id, _ := identityFrom(r.Context())

	if h.cfg.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, r, http.StatusRequestEntityTooLarge, failed("The message is too large."))
			return
		}
		logger.Info("invalid form submission", slog.String("error", err.Error()))
		writeJSON(w, r, http.StatusBadRequest, failed(msgUnexpected))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	form := parseForm(r.MultipartForm)
	if errs := form.validate(); len(errs) > 0 {
		writeJSON(w, r, http.StatusOK, failed(errs...))
		return
	}

	group, err := directory.Authorize(r.Context(), h.dir, id.Account, form.group)
	switch {
	case errors.Is(err, directory.ErrNotPrivileged):
		writeJSON(w, r, http.StatusForbidden, failed("You are not allowed to send e-mails as a group."))
		return
	case errors.Is(err, directory.ErrUnknownGroup), errors.Is(err, directory.ErrNotSender), errors.Is(err, directory.ErrNotMember):
		logger.Info("sender group rejected", slog.String("group", form.group), slog.String("error", err.Error()))
		writeJSON(w, r, http.StatusOK, failed("This value is not valid."))
		return
	case err != nil:
		logger.Error("authorization lookup failed", slog.String("error", err.Error()))
		writeJSON(w, r, http.StatusOK, failed(msgUnexpected))
		return
	}

	attachments, closeAll, err := openAttachments(r.MultipartForm)
	defer closeAll()
	if err != nil {
		logger.Error("failed to open uploaded file", slog.String("error", err.Error()))
		writeJSON(w, r, http.StatusOK, failed(msgUnexpected))
		return
	}

	clientIP := remoteIP(r.RemoteAddr)
	res, err := h.sender.Send(r.Context(), groupmail.SendRequest{
		ActingUser:        id.Account,
		Group:             groupmail.Group{Account: group.Account, Name: group.Name},
		Subject:           form.subject,
		Body:              form.body,
		Recipients:        form.recipients,
		Attachments:       attachments,
		CallerIP:          clientIP,
		ForwardedIP:       lastForwardedHop(r.Header.Get("X-Forwarded-For")),
		SessionCredential: id.Token,
	})
	if err != nil {
		msg := userMessage(err)
		if msg == msgUnexpected {
			logger.Error("sending group mail failed", slog.String("error", err.Error()))
		} else {
			logger.Info("group mail rejected", slog.String("error", err.Error()))
		}
		writeJSON(w, r, http.StatusOK, failed(msg))
		return
	}

	writeJSON(w, r, http.StatusOK, resultResponse(res))
}

// resultResponse lists error messages before success messages. Only exit
// code 0 counts as success.
func resultResponse(res groupmail.Result) Response {
	resp := Response{Result: ResultFailed, Messages: []Message{}}
	if res.ExitCode == 0 {
		resp.Result = ResultSuccess
	}
	for _, m := range res.Errors {
		resp.Messages = append(resp.Messages, Message{Type: MessageError, Message: m})
	}
	for _, m := range res.Success {
		resp.Messages = append(resp.Messages, Message{Type: MessageSuccess, Message: m})
	}
	return resp
}

// userMessage maps a send error onto what the user is told. Internal faults
// all collapse to one generic message.
func userMessage(err error) string {
	switch {
	case errors.Is(err, address.ErrParse):
		return "At least one recipient is not a valid e-mail address."
	case errors.Is(err, groupmail.ErrNoRecipients):
		return "Recipients should not be empty."
	case errors.Is(err, groupmail.ErrTooManyRecipients):
		return "Too many recipients."
	case errors.Is(err, staging.ErrAttachmentName):
		return "An attachment has an invalid file name."
	case errors.Is(err, staging.ErrTooLarge):
		return "The attachments are too large."
	default:
		return msgUnexpected
	}
}

type sendForm struct {
	group      string
	subject    string
	body       string
	recipients []string
}

func parseForm(mf *multipart.Form) sendForm {
	first := func(key string) string {
		if v := mf.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	f := sendForm{
		group:   strings.TrimSpace(first(FieldGroup)),
		subject: first(FieldSubject),
		body:    first(FieldBody),
	}

	sources := mf.Value[FieldRecipientsSource]
	for i, v := range mf.Value[FieldRecipients] {
		if i < len(sources) && sources[i] != "" {
			v = strings.TrimPrefix(v, sources[i]+":")
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		f.recipients = append(f.recipients, v)
	}
	return f
}

func (f sendForm) validate() []string {
	var errs []string
	if strings.TrimSpace(f.subject) == "" {
		errs = append(errs, "Subject should not be empty.")
	}
	if f.group == "" {
		errs = append(errs, "Sender should not be empty.")
	}
	if len(f.recipients) == 0 {
		errs = append(errs, "Recipients should not be empty.")
	}
	if strings.TrimSpace(f.body) == "" {
		errs = append(errs, "Message should not be empty.")
	}
	return errs
}

func openAttachments(mf *multipart.Form) ([]staging.Attachment, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	var atts []staging.Attachment
	for _, fh := range mf.File[FieldAttachments] {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		files = append(files, f)
		atts = append(atts, staging.Attachment{Name: fh.Filename, Content: f})
	}
	return atts, closeAll, nil
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// lastForwardedHop returns the last entry of an X-Forwarded-For value.
func lastForwardedHop(header string) string {
	if i := strings.LastIndexByte(header, ','); i >= 0 {
		header = header[i+1:]
	}
	return strings.TrimSpace(header)
}
