package report

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/platform/whatsapp"
	"scan-kiosk/internal/scan"
)

var reportDate = time.Date(2026, 10, 15, 11, 30, 0, 0, time.UTC)

func asha() scan.Intake {
	return scan.Intake{FullName: "Asha Rao", PhoneNumber: "9876543210", ServiceType: scan.Facial}
}

func sampleAssessment() scan.Assessment {
	return scan.Assessment{
		Score:             scan.Score{Kind: scan.Facial, Value: 78},
		OverallAssessment: "Skin is generally healthy with mild dryness.",
		KeyProblemPoints:  []string{"Mild dryness", "Fine lines", "Uneven tone", "Dark circles"},
		DetectedProblems: []scan.Problem{
			{Problem: "Dryness", Description: "Flaky patches on cheeks", SuggestedTreatment: "Hydrating facial"},
			{Problem: "Fine lines", Description: "Around the eyes", SuggestedTreatment: "Retinol serum"},
		},
	}
}

func testFrame(t *testing.T) scan.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 3), B: uint8(y * 5), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return scan.Frame{Data: buf.Bytes(), MIMEType: "image/jpeg", Width: 64, Height: 48}
}

func plainRenderer(t *testing.T) *Renderer {
	r, err := NewRenderer(Options{FooterText: "InfiPlus"})
	require.NoError(t, err)
	return r
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Asha Rao_facial_2026-10-15.pdf", FileName(asha(), reportDate))

	in := scan.Intake{FullName: " R/K Sen ", ServiceType: scan.Dental}
	assert.Equal(t, "R-K Sen_dental_2026-10-15.pdf", FileName(in, reportDate))
}

func TestRender_Content(t *testing.T) {
	r := plainRenderer(t)
	frames := []scan.Frame{testFrame(t), testFrame(t), testFrame(t)}

	doc, err := r.Render(asha(), sampleAssessment(), frames, reportDate)

	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
	for _, want := range []string{
		"Medzeal",
		"Facial Analysis Report",
		"Report Date: 15 Oct 2026",
		"Name: Asha Rao",
		"Phone: 9876543210",
		"Score: 78/100",
		"Type: Facial",
		"1. Mild dryness",
		"2. Fine lines",
		"3. Uneven tone",
		"Hydrating facial",
		"Retinol serum",
		"Image 3",
		"InfiPlus",
	} {
		assert.True(t, bytes.Contains(doc, []byte(want)), "missing %q", want)
	}
	assert.False(t, bytes.Contains(doc, []byte("Dark circles")), "only three findings are printed")
}

func TestRender_DentalLetterhead(t *testing.T) {
	r := plainRenderer(t)
	in := scan.Intake{FullName: "Ravi", PhoneNumber: "9123456780", ServiceType: scan.Dental}
	a := scan.Assessment{Score: scan.Score{Kind: scan.Dental, Value: 61}, OverallAssessment: "Mild plaque."}

	doc, err := r.Render(in, a, nil, reportDate)

	require.NoError(t, err)
	assert.True(t, bytes.Contains(doc, []byte("MEDORA")))
	assert.True(t, bytes.Contains(doc, []byte("Dental Analysis Report")))
	assert.True(t, bytes.Contains(doc, []byte("Score: 61/100")))
	assert.False(t, bytes.Contains(doc, []byte("Key Findings")))
}

func TestRender_UnreadableImage(t *testing.T) {
	r := plainRenderer(t)
	bad := scan.Frame{Data: []byte("not a jpeg"), MIMEType: "image/jpeg", Width: 1, Height: 1}

	_, err := r.Render(asha(), sampleAssessment(), []scan.Frame{bad}, reportDate)
	assert.Error(t, err)
}

func TestRender_WithLetterheadTemplate(t *testing.T) {
	dir := t.TempDir()
	tplPath := filepath.Join(dir, "letterhead.pdf")

	tpl := gofpdf.New("P", "mm", "A4", "")
	tpl.SetCompression(false)
	tpl.AddPage()
	tpl.SetFont("Helvetica", "B", 20)
	tpl.Text(15, 15, "LETTERHEAD TEMPLATE")
	require.NoError(t, tpl.OutputFileAndClose(tplPath))

	r, err := NewRenderer(Options{TemplatePath: tplPath})
	require.NoError(t, err)

	doc, err := r.Render(asha(), sampleAssessment(), nil, reportDate)

	require.NoError(t, err)
	assert.True(t, bytes.Contains(doc, []byte("Name: Asha Rao")))
	assert.False(t, bytes.Contains(doc, []byte("(Medzeal) Tj")))
}

func TestNewRenderer_MissingTemplate(t *testing.T) {
	_, err := NewRenderer(Options{TemplatePath: filepath.Join(t.TempDir(), "nope.pdf")})
	assert.Error(t, err)
}

func TestSaveToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	p, err := SaveToFile(dir, "Asha Rao_facial_2026-10-15.pdf", []byte("%PDF-1.3"))

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Asha Rao_facial_2026-10-15.pdf"), p)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.3"), b)
}

type fakeMedia struct {
	patientID, fileName string
	data                []byte
	err                 error
}

func (f *fakeMedia) UploadDocument(_ context.Context, patientID, fileName string, data []byte) (string, error) {
	f.patientID, f.fileName, f.data = patientID, fileName, data
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn/reports/" + patientID + "/" + fileName, nil
}

type fakeMessenger struct {
	recipient, url, caption, fileName string
	err                               error
}

func (f *fakeMessenger) SendDocument(_ context.Context, recipient, url, caption, fileName string) (whatsapp.Delivery, error) {
	f.recipient, f.url, f.caption, f.fileName = recipient, url, caption, fileName
	if f.err != nil {
		return whatsapp.Delivery{}, f.err
	}
	return whatsapp.Delivery{MessageID: "wamid.1", Recipient: recipient}, nil
}

type fakeClinic struct {
	chatID  int64
	url     string
	err     error
	text    string
	textErr error
}

func (f *fakeClinic) SendDocument(_ context.Context, chatID int64, url, _ string) error {
	f.chatID, f.url = chatID, url
	return f.err
}

func (f *fakeClinic) SendMessage(_ context.Context, chatID int64, text string) error {
	f.chatID, f.text = chatID, text
	return f.textErr
}

func newTestService(t *testing.T, media *fakeMedia, msg *fakeMessenger) *Service {
	s := NewService(plainRenderer(t), media, msg, "91", zap.NewNop())
	s.now = func() time.Time { return reportDate }
	return s
}

func TestService_Send(t *testing.T) {
	media, msg, clinic := &fakeMedia{}, &fakeMessenger{}, &fakeClinic{err: errors.New("telegram down")}
	s := newTestService(t, media, msg).WithClinicCopy(clinic, -100)

	rc, err := s.Send(context.Background(), "p-1", asha(), sampleAssessment(), nil)

	require.NoError(t, err)
	assert.Equal(t, "p-1", media.patientID)
	assert.Equal(t, "Asha Rao_facial_2026-10-15.pdf", media.fileName)
	assert.True(t, bytes.HasPrefix(media.data, []byte("%PDF-")))

	assert.Equal(t, "+919876543210", msg.recipient)
	assert.Equal(t, rc.URL, msg.url)
	assert.Contains(t, msg.caption, "Asha Rao")
	assert.Contains(t, msg.caption, "78/100")
	assert.Contains(t, msg.caption, "Facial Analysis")

	assert.Equal(t, int64(-100), clinic.chatID)
	assert.Equal(t, "wamid.1", rc.Delivery.MessageID)
}

func TestService_ClinicCopyFallsBackToLink(t *testing.T) {
	clinic := &fakeClinic{err: errors.New("wrong file identifier/HTTP URL specified")}
	s := newTestService(t, &fakeMedia{}, &fakeMessenger{}).WithClinicCopy(clinic, -100)

	rc, err := s.Send(context.Background(), "p-1", asha(), sampleAssessment(), nil)

	require.NoError(t, err)
	assert.Contains(t, clinic.text, "Asha Rao")
	assert.Contains(t, clinic.text, "78/100")
	assert.Contains(t, clinic.text, rc.URL)
}

func TestService_ClinicCopyFailureIsNotFatal(t *testing.T) {
	clinic := &fakeClinic{err: errors.New("telegram down"), textErr: errors.New("telegram down")}
	s := newTestService(t, &fakeMedia{}, &fakeMessenger{}).WithClinicCopy(clinic, -100)

	rc, err := s.Send(context.Background(), "p-1", asha(), sampleAssessment(), nil)

	require.NoError(t, err)
	assert.Equal(t, "wamid.1", rc.Delivery.MessageID)
}

func TestService_ClinicDocumentSentWithoutFallback(t *testing.T) {
	clinic := &fakeClinic{}
	s := newTestService(t, &fakeMedia{}, &fakeMessenger{}).WithClinicCopy(clinic, -100)

	rc, err := s.Send(context.Background(), "p-1", asha(), sampleAssessment(), nil)

	require.NoError(t, err)
	assert.Equal(t, rc.URL, clinic.url)
	assert.Empty(t, clinic.text)
}

func TestService_SendUploadFailure(t *testing.T) {
	media := &fakeMedia{err: kerrors.Integration("media store", errors.New("503"))}
	msg := &fakeMessenger{}
	s := newTestService(t, media, msg)

	_, err := s.Send(context.Background(), "p-1", asha(), sampleAssessment(), nil)

	assert.True(t, kerrors.Is(err, kerrors.ErrIntegration))
	assert.Empty(t, msg.recipient, "nothing is sent when the upload fails")
}

func TestService_SendDeliveryFailure(t *testing.T) {
	msg := &fakeMessenger{err: kerrors.Integration("messaging", errors.New("timeout"))}
	s := newTestService(t, &fakeMedia{}, msg)

	_, err := s.Send(context.Background(), "p-1", asha(), sampleAssessment(), nil)
	assert.True(t, kerrors.Is(err, kerrors.ErrIntegration))
}

func TestService_BuildRenderFailure(t *testing.T) {
	s := newTestService(t, &fakeMedia{}, &fakeMessenger{})
	bad := scan.Frame{Data: []byte("garbage"), MIMEType: "image/png"}

	_, err := s.Build(asha(), sampleAssessment(), []scan.Frame{bad})

	e, ok := kerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, kerrors.ErrInternal, e.Code)
}
