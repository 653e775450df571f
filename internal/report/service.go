package report

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/platform/whatsapp"
	"scan-kiosk/internal/scan"
)

type MediaStore interface {
	UploadDocument(ctx context.Context, patientID, fileName string, data []byte) (string, error)
}

type Messenger interface {
	SendDocument(ctx context.Context, recipient, url, caption, fileName string) (whatsapp.Delivery, error)
}

// ClinicNotifier receives a copy of every delivered report.
type ClinicNotifier interface {
	SendDocument(ctx context.Context, chatID int64, documentURL, caption string) error
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Document is a rendered report ready to save or send.
type Document struct {
	FileName string
	Data     []byte
}

// Receipt describes a completed delivery.
type Receipt struct {
	FileName string            `json:"fileName"`
	URL      string            `json:"url"`
	Delivery whatsapp.Delivery `json:"delivery"`
}

type Service struct {
	renderer     *Renderer
	media        MediaStore
	messenger    Messenger
	clinic       ClinicNotifier
	clinicChatID int64
	countryCode  string
	logger       *zap.Logger
	now          func() time.Time
}

func NewService(renderer *Renderer, media MediaStore, messenger Messenger, countryCode string, logger *zap.Logger) *Service {
	return &Service{
		renderer:    renderer,
		media:       media,
		messenger:   messenger,
		countryCode: countryCode,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClinicCopy posts every delivered report to chatID as well.
func (s *Service) WithClinicCopy(n ClinicNotifier, chatID int64) *Service {
	s.clinic = n
	s.clinicChatID = chatID
	return s
}

// Build renders the report dated today.
func (s *Service) Build(in scan.Intake, a scan.Assessment, images []scan.Frame) (Document, error) {
	date := s.now()
	data, err := s.renderer.Render(in, a, images, date)
	if err != nil {
		s.logger.Error("report render failed", zap.Error(err))
		e := kerrors.NewInternal(err)
		e.Message = "could not generate the report, please try again"
		return Document{}, e
	}
	return Document{FileName: FileName(in, date), Data: data}, nil
}

// Send renders the report, uploads it to the media store and delivers it to
// the patient's phone. The clinic copy is best effort.
func (s *Service) Send(ctx context.Context, patientID string, in scan.Intake, a scan.Assessment, images []scan.Frame) (Receipt, error) {
	doc, err := s.Build(in, a, images)
	if err != nil {
		return Receipt{}, err
	}

	url, err := s.media.UploadDocument(ctx, patientID, doc.FileName, doc.Data)
	if err != nil {
		return Receipt{}, fmt.Errorf("upload report: %w", err)
	}
	s.logger.Info("report uploaded", zap.String("patient_id", patientID), zap.String("url", url))

	recipient := whatsapp.RecipientNumber(s.countryCode, in.PhoneNumber)
	delivery, err := s.messenger.SendDocument(ctx, recipient, url, Caption(in, a, url), doc.FileName)
	if err != nil {
		return Receipt{}, fmt.Errorf("deliver report: %w", err)
	}

	if s.clinic != nil && s.clinicChatID != 0 {
		s.notifyClinic(ctx, patientID, in, a, url)
	}

	return Receipt{FileName: doc.FileName, URL: url, Delivery: delivery}, nil
}

// notifyClinic posts the report to the clinic chat, falling back to a plain
// text message with the link when Telegram cannot fetch the document.
func (s *Service) notifyClinic(ctx context.Context, patientID string, in scan.Intake, a scan.Assessment, url string) {
	caption := fmt.Sprintf("%s - %s %s", in.FullName, in.ServiceType.Label(), a.Score)
	err := s.clinic.SendDocument(ctx, s.clinicChatID, url, caption)
	if err == nil {
		return
	}
	s.logger.Warn("clinic document copy failed, sending link", zap.String("patient_id", patientID), zap.Error(err))
	if err := s.clinic.SendMessage(ctx, s.clinicChatID, caption+"\n"+url); err != nil {
		s.logger.Warn("clinic copy failed", zap.String("patient_id", patientID), zap.Error(err))
	}
}

// Caption is the message text sent along with the document.
func Caption(in scan.Intake, a scan.Assessment, url string) string {
	return fmt.Sprintf("*MedAnalysis Report*\n\n*Patient:* %s\n*Score:* %s\n*Service:* %s\n\n*Report PDF:* %s\n\nThank you for using our service!",
		in.FullName, a.Score, in.ServiceType.Label(), url)
}
