package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/feedback"
	"scan-kiosk/internal/patient"
	"scan-kiosk/internal/scan"
)

func newTestServer(t *testing.T, h *harness) (*httptest.Server, *Manager) {
	m := NewManager(h.deps, time.Hour)
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, NewHandler(m, h.store, zap.NewNop()))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, m
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decodeView(t *testing.T, resp *http.Response) View {
	t.Helper()
	defer resp.Body.Close()
	var v View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	defer resp.Body.Close()
	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func TestHandler_FullFlow(t *testing.T) {
	h := newHarness(t)
	srv, _ := newTestServer(t, h)

	resp := post(t, srv.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	v := decodeView(t, resp)
	base := srv.URL + "/api/sessions/" + v.ID
	assert.Equal(t, StateIntake, v.State)

	resp = post(t, base+"/intake", validForm())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, StateCapturing, decodeView(t, resp).State)

	resp = post(t, base+"/captures", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	e := decodeError(t, resp)
	assert.Equal(t, kerrors.ErrCameraNotReady, e.Error.Code)
	require.NotNil(t, e.Session)
	assert.Equal(t, 0, e.Session.FrameCount)

	frame := jpegFrame(t)
	resp = post(t, base+"/camera/frames", frameRequest{Image: frame.DataURL(), Width: 32, Height: 24})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	for i := 0; i < 4; i++ {
		resp = post(t, base+"/captures", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		v = decodeView(t, resp)
	}
	assert.Equal(t, 3, v.FrameCount)
	assert.True(t, v.CanSubmit)

	resp = post(t, base+"/submit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v = decodeView(t, resp)
	assert.Equal(t, StateReporting, v.State)
	assert.Equal(t, "85/100", v.Score)
	assert.Equal(t, []string{"a", "b"}, v.Findings)

	resp, err := http.Get(base + "/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Asha Rao_facial_")
	resp.Body.Close()

	resp = post(t, base+"/report/send", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sent struct {
		Receipt struct {
			Delivery struct {
				Recipient string `json:"recipient"`
			} `json:"delivery"`
		} `json:"receipt"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))
	resp.Body.Close()
	assert.Equal(t, "+919876543210", sent.Receipt.Delivery.Recipient)

	resp, err = http.Get(srv.URL + "/api/patients/p-1/report")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep patient.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	resp.Body.Close()
	assert.Equal(t, 85, rep.Assessment.ScoreValue())

	resp = post(t, base+"/reset", nil)
	assert.Equal(t, StateIntake, decodeView(t, resp).State)
}

func TestHandler_InvalidIntake(t *testing.T) {
	h := newHarness(t)
	srv, m := newTestServer(t, h)
	c := m.Create()

	resp := post(t, srv.URL+"/api/sessions/"+c.ID()+"/intake",
		scan.IntakeForm{FullName: "Asha Rao", PhoneNumber: "98765", ServiceType: "facial"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := decodeError(t, resp)
	assert.Equal(t, kerrors.ErrValidation, e.Error.Code)
	assert.Contains(t, e.Error.Details, "phoneNumber")
	assert.Equal(t, StateIntake, e.Session.State)
	assert.Zero(t, h.store.createCount())
}

func TestHandler_MalformedBodies(t *testing.T) {
	h := newHarness(t)
	srv, m := newTestServer(t, h)
	c := m.Create()
	base := srv.URL + "/api/sessions/" + c.ID()

	resp, err := http.Post(base+"/intake", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, base+"/camera/frames", frameRequest{Image: "not a data url"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, newHarness(t))

	resp, err := http.Get(srv.URL + "/api/sessions/nope")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, kerrors.ErrNotFound, decodeError(t, resp).Error.Code)
}

func TestHandler_MissingPatientReport(t *testing.T) {
	srv, _ := newTestServer(t, newHarness(t))

	resp, err := http.Get(srv.URL + "/api/patients/p-404/report")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_CameraErrorThenRetry(t *testing.T) {
	h := newHarness(t)
	srv, m := newTestServer(t, h)
	c := m.Create()
	base := srv.URL + "/api/sessions/" + c.ID()
	decodeView(t, post(t, base+"/intake", validForm()))

	resp := post(t, base+"/camera/error", cameraErrorRequest{Reason: "NotFoundError"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	e := decodeError(t, resp)
	assert.Equal(t, kerrors.ErrDevice, e.Error.Code)
	assert.NotContains(t, e.Error.Message, "NotFoundError")
	assert.Equal(t, StateError, e.Session.State)

	resp = post(t, base+"/camera/frames", frameRequest{Image: jpegFrame(t).DataURL(), Width: 32, Height: 24})
	resp.Body.Close()
	resp = post(t, base+"/retry", nil)
	assert.Equal(t, StateCapturing, decodeView(t, resp).State)
}

func TestHandler_FeedbackStream(t *testing.T) {
	h := newHarness(t)
	srv, m := newTestServer(t, h)
	c := m.Create()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sessions/"+c.ID()+"/feedback", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	c.events.Publish(feedback.Event{Text: "thoda smile kijiye"})

	var data string
	for data == "" {
		line, err = rd.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}
	var ev feedback.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "thoda smile kijiye", ev.Text)
}

func TestHandler_RetryAfterIntakeStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = kerrors.Integration("patient record store", errors.New("connection refused"))
	srv, m := newTestServer(t, h)
	c := m.Create()
	base := srv.URL + "/api/sessions/" + c.ID()

	resp := post(t, base+"/intake", validForm())
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	e := decodeError(t, resp)
	require.NotNil(t, e.Session.Error)
	assert.True(t, e.Session.Error.Retryable)

	h.store.createErr = nil
	resp = post(t, base+"/retry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, StateCapturing, decodeView(t, resp).State)
	c.Close()
}

func TestHandler_DownloadReportNonASCIIName(t *testing.T) {
	h := newHarness(t)
	srv, m := newTestServer(t, h)
	c := m.Create()
	base := srv.URL + "/api/sessions/" + c.ID()

	decodeView(t, post(t, base+"/intake", scan.IntakeForm{FullName: "Zoë Müller", PhoneNumber: "9876543210", ServiceType: "dental"}))
	resp := post(t, base+"/camera/frames", frameRequest{Image: jpegFrame(t).DataURL(), Width: 32, Height: 24})
	resp.Body.Close()
	for i := 0; i < FramesRequired; i++ {
		decodeView(t, post(t, base+"/captures", nil))
	}
	require.Equal(t, StateReporting, decodeView(t, post(t, base+"/submit", nil)).State)

	resp, err := http.Get(base + "/report.pdf")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	disposition, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.True(t, strings.HasPrefix(params["filename"], "Zoë Müller_dental_"), params["filename"])
	assert.NotContains(t, resp.Header.Get("Content-Disposition"), `\u`)
}
