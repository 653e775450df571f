package session

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/patient"
	"scan-kiosk/internal/scan"
)

const maxFrameBody = 10 << 20

type ReportReader interface {
	ReadReport(ctx context.Context, patientID string) (*patient.Report, error)
}

type Handler struct {
	sessions *Manager
	records  ReportReader
	logger   *zap.Logger
}

func NewHandler(sessions *Manager, records ReportReader, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, records: records, logger: logger}
}

type errorBody struct {
	Code    kerrors.ErrorCode `json:"code"`
	Message string            `json:"message"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error   errorBody `json:"error"`
	Session *View     `json:"session,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError responds with the operator-facing part of err only.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, view *View) {
	e := kerrors.From(err)
	if e.Status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("code", string(e.Code)), zap.Error(err))
	}
	writeJSON(w, e.Status, errorResponse{
		Error:   errorBody{Code: e.Code, Message: e.Message, Details: e.Details},
		Session: view,
	})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return kerrors.NewValidation("invalid request body", nil)
	}
	return nil
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Controller, bool) {
	c, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return nil, false
	}
	return c, true
}

// respond writes the session view, or the error together with the view.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, c *Controller, err error) {
	v := c.View()
	if err != nil {
		h.writeError(w, r, err, &v)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	c := h.sessions.Create()
	writeJSON(w, http.StatusCreated, c.View())
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (h *Handler) SubmitIntake(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	var form scan.IntakeForm
	if err := decode(r, &form); err != nil {
		h.respond(w, r, c, err)
		return
	}
	h.respond(w, r, c, c.SubmitIntake(r.Context(), form))
}

type frameRequest struct {
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (h *Handler) PushFrame(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFrameBody)
	var req frameRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	data, mime, err := scan.ParseDataURL(req.Image)
	if err != nil {
		h.writeError(w, r, kerrors.NewValidation("image must be a base64 data URL", map[string]string{"image": err.Error()}), nil)
		return
	}
	c.PushFrame(scan.Frame{Data: data, MIMEType: mime, Width: req.Width, Height: req.Height})
	w.WriteHeader(http.StatusNoContent)
}

type cameraErrorRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CameraError(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	var req cameraErrorRequest
	if err := decode(r, &req); err != nil {
		h.respond(w, r, c, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "camera unavailable"
	}
	h.respond(w, r, c, c.CameraFailed(req.Reason))
}

func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respond(w, r, c, c.Capture(r.Context()))
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respond(w, r, c, c.Submit(r.Context()))
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respond(w, r, c, c.Retry(r.Context()))
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	c.Reset()
	h.respond(w, r, c, nil)
}

// Feedback streams live narration as server-sent events.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, kerrors.NewInternal(fmt.Errorf("streaming not supported")), nil)
		return
	}

	events, cancel := c.Feedback()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: feedback\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	doc, err := c.Report(r.Context())
	if err != nil {
		h.respond(w, r, c, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}))
	w.WriteHeader(http.StatusOK)
	w.Write(doc.Data)
}

func (h *Handler) SendReport(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	rc, err := c.SendReport(r.Context())
	if err != nil {
		h.respond(w, r, c, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receipt": rc,
		"session": c.View(),
	})
}

func (h *Handler) PatientReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	rep, err := h.records.ReadReport(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if rep == nil {
		h.writeError(w, r, kerrors.NewNotFound("report", id), nil)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/intake", h.SubmitIntake)
		r.Post("/camera/frames", h.PushFrame)
		r.Post("/camera/error", h.CameraError)
		r.Post("/captures", h.Capture)
		r.Post("/submit", h.Submit)
		r.Post("/retry", h.Retry)
		r.Post("/reset", h.Reset)
		r.Get("/feedback", h.Feedback)
		r.Get("/report.pdf", h.DownloadReport)
		r.Post("/report/send", h.SendReport)
	})
	r.Get("/patients/{patientID}/report", h.PatientReport)
}
