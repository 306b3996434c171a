package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shineum/bulk-mailer-lite/internal/address"
	"github.com/shineum/bulk-mailer-lite/internal/campaign"
	"github.com/shineum/bulk-mailer-lite/internal/email"
	"github.com/shineum/bulk-mailer-lite/internal/render"
	"github.com/shineum/bulk-mailer-lite/internal/sendlog"
	"github.com/shineum/bulk-mailer-lite/internal/templates"
)

const (
	formatHTML     = "html"
	formatMarkdown = "markdown"
)

// templateResponse carries a stored template. Sanitized is set when the
// stored HTML differs from the submitted one.
type templateResponse struct {
	Name      string `json:"name"`
	Body      string `json:"body"`
	Sanitized bool   `json:"sanitized,omitempty"`
}

type putTemplateRequest struct {
	Body   string `json:"body"`
	Format string `json:"format,omitempty"`
}

type failureResponse struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

type sendResponse struct {
	RunID      string              `json:"run_id"`
	Attempted  int                 `json:"attempted"`
	Sent       []string            `json:"sent"`
	Failed     []failureResponse   `json:"failed"`
	Rejected   []address.Rejection `json:"rejected,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Error      string              `json:"error,omitempty"`
}

func templateStatus(err error) int {
	switch {
	case errors.Is(err, templates.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, templates.ErrInvalidName), errors.Is(err, templates.ErrEmptyBody):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	names, err := s.library.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"templates": names})
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := s.library.Get(r.Context(), name)
	if err != nil {
		writeError(w, templateStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, templateResponse{Name: name, Body: body})
}

func (s *Server) putTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req putTemplateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	var (
		body string
		err  error
	)
	switch strings.ToLower(req.Format) {
	case "", formatHTML:
		body, err = s.library.Put(r.Context(), name, req.Body)
	case formatMarkdown:
		body, err = s.library.Import(r.Context(), name, []byte(req.Body))
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown format %q", req.Format))
		return
	}
	if err != nil {
		s.logger.Error("failed to save template", "name", name, "error", err)
		writeError(w, templateStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, templateResponse{
		Name:      strings.TrimSpace(name),
		Body:      body,
		Sanitized: !strings.EqualFold(req.Format, formatMarkdown) && body != strings.TrimSpace(req.Body),
	})
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.library.Remove(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.logger.Error("failed to delete template", "error", err)
		writeError(w, templateStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) validateRecipients(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, s.maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result := address.Parse(string(raw))
	if result.Accepted == nil {
		result.Accepted = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	if err := s.sender.Ready(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := parseForm(r, s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	body := r.FormValue("body")
	if name := r.FormValue("template"); name != "" {
		stored, err := s.library.Get(r.Context(), name)
		if err != nil {
			writeError(w, templateStatus(err), err)
			return
		}
		body = stored
	}
	if strings.TrimSpace(body) == "" {
		writeError(w, http.StatusBadRequest, errors.New("either template or body is required"))
		return
	}

	recipients := address.Parse(r.FormValue("recipients"))
	if len(recipients.Accepted) == 0 {
		writeJSON(w, http.StatusBadRequest, sendResponse{
			Rejected: recipients.Rejected,
			Error:    campaign.ErrNoRecipients.Error(),
		})
		return
	}

	attachment, err := formAttachment(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	personalize, _ := strconv.ParseBool(r.FormValue("personalize"))
	req := campaign.Request{
		Subject:     r.FormValue("subject"),
		Body:        body,
		Recipients:  recipients.Accepted,
		Attachment:  attachment,
		Personalize: personalize,
		Values: render.Values{
			Position: r.FormValue("position"),
			Company:  r.FormValue("company"),
		},
	}

	// A started run goes to completion even if the client goes away.
	report, err := s.sender.SendAll(context.WithoutCancel(r.Context()), req)
	if report == nil {
		status := http.StatusInternalServerError
		if errors.Is(err, campaign.ErrMissingCredentials) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}

	resp := newSendResponse(report, recipients.Rejected)
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	entries, err := s.log.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []sendlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string][]sendlog.Entry{"entries": entries})
}

// parseForm accepts both multipart and urlencoded bodies.
func parseForm(r *http.Request, maxMemory int64) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(maxMemory)
	}
	return r.ParseForm()
}

func formAttachment(r *http.Request) (*email.Attachment, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	f, header, err := r.FormFile("attachment")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid attachment: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return &email.Attachment{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

func newSendResponse(report *campaign.Report, rejected []address.Rejection) sendResponse {
	failed := make([]failureResponse, 0, len(report.Failed))
	for _, f := range report.Failed {
		failed = append(failed, failureResponse{Recipient: f.Recipient, Error: f.Err.Error()})
	}
	sent := report.Sent
	if sent == nil {
		sent = []string{}
	}
	return sendResponse{
		RunID:      report.RunID,
		Attempted:  report.Attempted,
		Sent:       sent,
		Failed:     failed,
		Rejected:   rejected,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
}
