package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scan-kiosk/internal/camera"
	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/feedback"
	"scan-kiosk/internal/patient"
	"scan-kiosk/internal/report"
	"scan-kiosk/internal/scan"
)

type RecordStore interface {
	Create(ctx context.Context, in scan.Intake, at time.Time) (string, error)
	WriteReport(ctx context.Context, patientID string, r patient.Report) error
}

type MediaStore interface {
	Upload(ctx context.Context, patientID string, index int, image []byte, mimeType string) (string, error)
}

type Vision interface {
	feedback.Analyzer
	Configured() bool
	Analyze(ctx context.Context, frames []scan.Frame, st scan.ServiceType) (scan.Assessment, error)
}

type Reporter interface {
	Build(in scan.Intake, a scan.Assessment, images []scan.Frame) (report.Document, error)
	Send(ctx context.Context, patientID string, in scan.Intake, a scan.Assessment, images []scan.Frame) (report.Receipt, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store    RecordStore
	Media    MediaStore
	Vision   Vision
	Reports  Reporter
	Speech   feedback.Synthesizer
	Feedback feedback.Config
	// LiveFeedback enables the narration loop while capturing.
	LiveFeedback bool
	// ReportsDir, when set, receives a copy of every downloaded report.
	ReportsDir string
	Logger     *zap.Logger
	Now        func() time.Time
}

// Controller is the state machine for one kiosk session. Its mutex is never
// held across a call to an external collaborator; gen guards against
// results of calls that were started before a Reset.
type Controller struct {
	id     string
	deps   Deps
	feed   *camera.Feed
	events *feedback.Broadcaster
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	busy       bool
	gen        uint64
	intake     *scan.Intake
	pending    *scan.Intake
	patientID  string
	frames     []scan.Frame
	handle     *camera.Handle
	loop       *feedback.Loop
	phrases    *feedback.Phrases
	assessment *scan.Assessment
	imageURLs  []string
	failure    *kerrors.Error
	failedAt   State
	delivered  string
	lastActive time.Time
}

func NewController(id string, deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger.With(zap.String("session_id", id))
	return &Controller{
		id:         id,
		deps:       deps,
		feed:       camera.NewFeed(),
		events:     feedback.NewBroadcaster(deps.Speech, logger),
		logger:     logger,
		state:      StateIntake,
		phrases:    feedback.NewPhrases(),
		lastActive: deps.Now(),
	}
}

func (c *Controller) ID() string { return c.id }

// State returns the current stage.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActive is the time of the last operator action.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Controller) touch() { c.lastActive = c.deps.Now() }

// SubmitIntake validates the form, creates the patient record and opens the
// camera. The session stays in intake when validation or the store fails;
// a store failure can be retried without resubmitting the form.
func (c *Controller) SubmitIntake(ctx context.Context, form scan.IntakeForm) error {
	c.mu.Lock()
	c.touch()
	if c.state != StateIntake || c.busy {
		st := c.state
		c.mu.Unlock()
		return kerrors.NewInvalidState("submit intake", string(st))
	}
	c.mu.Unlock()

	in, err := form.Validate()
	if err != nil {
		return err
	}
	return c.createPatient(ctx, in, "submit intake")
}

// createPatient writes the intake to the record store and enters capturing.
func (c *Controller) createPatient(ctx context.Context, in scan.Intake, action string) error {
	c.mu.Lock()
	if c.state != StateIntake || c.busy {
		st := c.state
		c.mu.Unlock()
		return kerrors.NewInvalidState(action, string(st))
	}
	c.busy = true
	gen := c.gen
	c.mu.Unlock()

	id, err := c.deps.Store.Create(ctx, in, c.deps.Now())

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return kerrors.NewInvalidState(action, "reset")
	}
	c.busy = false
	if err != nil {
		e := kerrors.From(err)
		c.failure = e
		c.failedAt = StateIntake
		c.pending = &in
		c.logger.Warn("patient record create failed", zap.Error(err))
		return e
	}

	c.failure = nil
	c.failedAt = ""
	c.pending = nil
	c.intake = &in
	c.patientID = id
	c.frames = nil
	c.logger.Info("intake accepted", zap.String("patient_id", id), zap.String("service_type", string(in.ServiceType)))
	return c.enterCapturing()
}

// enterCapturing checks the vision credential, acquires the camera and starts
// live feedback. Called with mu held.
func (c *Controller) enterCapturing() error {
	if c.deps.Vision == nil || !c.deps.Vision.Configured() {
		return c.fail(StateCapturing, kerrors.NewConfiguration("vision analysis API key is not configured"))
	}
	h, err := c.feed.Acquire()
	if err != nil {
		return c.fail(StateCapturing, kerrors.NewDevice(err))
	}
	c.handle = h
	c.state = StateCapturing
	if c.deps.LiveFeedback {
		c.loop = feedback.Start(context.Background(), c.deps.Feedback, h, c.deps.Vision, c.events,
			feedback.Subject{Name: c.intake.FullName, ServiceType: c.intake.ServiceType},
			c.phrases, c.logger)
	}
	return nil
}

// leaveCapturing detaches the loop and camera handle. Called with mu held;
// the caller stops them after unlocking.
func (c *Controller) leaveCapturing() (*feedback.Loop, *camera.Handle) {
	loop, h := c.loop, c.handle
	c.loop, c.handle = nil, nil
	return loop, h
}

func release(loop *feedback.Loop, h *camera.Handle) {
	if loop != nil {
		loop.Stop()
	}
	if h != nil {
		h.Close()
	}
}

// fail moves the session to the error state. Called with mu held.
func (c *Controller) fail(stage State, e *kerrors.Error) *kerrors.Error {
	c.state = StateError
	c.failure = e
	c.failedAt = stage
	c.logger.Warn("session failed", zap.String("stage", string(stage)), zap.String("code", string(e.Code)), zap.Error(e))
	return e
}

// PushFrame stores the latest camera preview frame sent by the kiosk.
func (c *Controller) PushFrame(frame scan.Frame) {
	c.feed.Push(frame)
}

// Capture appends the current camera frame. A capture after the third is a
// no-op.
func (c *Controller) Capture(ctx context.Context) error {
	c.mu.Lock()
	c.touch()
	if c.state != StateCapturing {
		st := c.state
		c.mu.Unlock()
		return kerrors.NewInvalidState("capture", string(st))
	}
	if len(c.frames) >= FramesRequired {
		c.mu.Unlock()
		return nil
	}
	frame, err := c.handle.Snapshot()
	if err != nil {
		loop, h := c.leaveCapturing()
		e := c.fail(StateCapturing, kerrors.NewDevice(err))
		c.mu.Unlock()
		release(loop, h)
		return e
	}
	defer c.mu.Unlock()
	if !frame.Ready() {
		return kerrors.NewCameraNotReady()
	}
	c.frames = append(c.frames, frame)
	c.logger.Debug("frame captured", zap.Int("count", len(c.frames)))
	return nil
}

// CameraFailed records a device fault reported by the kiosk.
func (c *Controller) CameraFailed(reason string) error {
	c.feed.Fail(reason)

	c.mu.Lock()
	c.touch()
	if c.state != StateCapturing {
		c.mu.Unlock()
		return nil
	}
	loop, h := c.leaveCapturing()
	e := c.fail(StateCapturing, kerrors.NewDevice(errors.New(reason)))
	c.mu.Unlock()

	release(loop, h)
	return e
}

// Submit sends the three frames for analysis, uploads them and persists the
// result. It returns once the session reaches reporting or error.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	c.touch()
	if c.state != StateCapturing {
		st := c.state
		c.mu.Unlock()
		return kerrors.NewInvalidState("submit", string(st))
	}
	if len(c.frames) != FramesRequired {
		n := len(c.frames)
		c.mu.Unlock()
		return kerrors.NewValidation(fmt.Sprintf("take %d photos before submitting (%d taken)", FramesRequired, n),
			map[string]string{"frames": fmt.Sprintf("%d/%d", n, FramesRequired)})
	}
	loop, h := c.leaveCapturing()
	if c.intake == nil || !c.intake.ServiceType.Valid() {
		e := c.fail(StateAnalyzing, kerrors.NewValidation("service type is missing, please start over", map[string]string{"serviceType": "required"}))
		c.mu.Unlock()
		release(loop, h)
		return e
	}
	c.state = StateAnalyzing
	c.busy = true
	j := c.snapshotJob()
	c.mu.Unlock()

	release(loop, h)
	return c.process(ctx, j)
}

// job is the pipeline input copied out of the controller.
type job struct {
	gen        uint64
	intake     scan.Intake
	patientID  string
	frames     []scan.Frame
	assessment *scan.Assessment
	urls       []string
}

// snapshotJob copies the pipeline input. Called with mu held.
func (c *Controller) snapshotJob() job {
	j := job{
		gen:       c.gen,
		intake:    *c.intake,
		patientID: c.patientID,
		frames:    append([]scan.Frame(nil), c.frames...),
		urls:      append([]string(nil), c.imageURLs...),
	}
	if c.assessment != nil {
		a := *c.assessment
		j.assessment = &a
	}
	return j
}

// process runs the analysis pipeline from the first step without a result:
// analyze, upload frames, write the report. Entered with busy set.
func (c *Controller) process(ctx context.Context, j job) error {
	// A kiosk that disconnects must not abort an analysis in progress.
	ctx = context.WithoutCancel(ctx)

	gen, in, patientID, frames, urls := j.gen, j.intake, j.patientID, j.frames, j.urls
	var assessment scan.Assessment
	haveAssessment := j.assessment != nil
	if haveAssessment {
		assessment = *j.assessment
	}

	if !haveAssessment {
		a, err := c.deps.Vision.Analyze(ctx, frames, in.ServiceType)
		if err != nil {
			return c.finish(gen, err)
		}
		assessment = a
		c.mu.Lock()
		if gen == c.gen {
			c.assessment = &a
		}
		c.mu.Unlock()
	}

	if len(urls) != len(frames) {
		uploaded, err := c.upload(ctx, patientID, frames)
		if err != nil {
			return c.finish(gen, err)
		}
		urls = uploaded
		c.mu.Lock()
		if gen == c.gen {
			c.imageURLs = uploaded
		}
		c.mu.Unlock()
	}

	err := c.deps.Store.WriteReport(ctx, patientID, patient.Report{
		PatientID:   patientID,
		ServiceType: in.ServiceType,
		Assessment:  assessment,
		ImageURLs:   urls,
		CreatedAt:   c.deps.Now(),
	})
	if err != nil {
		return c.finish(gen, err)
	}
	return c.finish(gen, nil)
}

func (c *Controller) upload(ctx context.Context, patientID string, frames []scan.Frame) ([]string, error) {
	urls := make([]string, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range frames {
		i, f := i, f
		g.Go(func() error {
			u, err := c.deps.Media.Upload(gctx, patientID, i, f.Data, f.MIMEType)
			if err != nil {
				return fmt.Errorf("upload frame %d: %w", i+1, err)
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (c *Controller) finish(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return kerrors.NewInvalidState("complete analysis", "reset")
	}
	c.busy = false
	if err != nil {
		return c.fail(StateAnalyzing, kerrors.From(err))
	}
	c.state = StateReporting
	c.failure = nil
	c.logger.Info("analysis complete", zap.String("patient_id", c.patientID), zap.Int("score", c.assessment.ScoreValue()))
	return nil
}

// Retry resumes from the step that failed. A failed record create is
// attempted again with the same intake. Camera failures re-acquire the
// feed with frames and intake kept; analysis failures resume the pipeline.
// Configuration failures need a Reset.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	c.touch()
	if c.state == StateIntake && !c.busy && c.pending != nil && c.failure != nil && c.failure.Retryable() {
		in := *c.pending
		c.mu.Unlock()
		c.logger.Info("retrying patient record create")
		return c.createPatient(ctx, in, "retry")
	}
	if c.state != StateError || c.busy {
		st := c.state
		c.mu.Unlock()
		return kerrors.NewInvalidState("retry", string(st))
	}
	if c.failure != nil && !c.failure.Retryable() {
		c.mu.Unlock()
		return kerrors.NewInvalidState("retry", "not retryable; start over")
	}

	switch c.failedAt {
	case StateAnalyzing:
		c.state = StateAnalyzing
		c.failure = nil
		c.busy = true
		j := c.snapshotJob()
		c.mu.Unlock()
		c.logger.Info("retrying analysis pipeline")
		return c.process(ctx, j)
	default:
		defer c.mu.Unlock()
		c.failure = nil
		c.logger.Info("retrying camera acquisition")
		return c.enterCapturing()
	}
}

// Reset discards everything and returns to intake. It releases the camera
// and stops live feedback before returning.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.touch()
	c.gen++
	loop, h := c.leaveCapturing()
	c.state = StateIntake
	c.busy = false
	c.intake = nil
	c.pending = nil
	c.patientID = ""
	c.frames = nil
	c.assessment = nil
	c.imageURLs = nil
	c.failure = nil
	c.failedAt = ""
	c.delivered = ""
	c.phrases = feedback.NewPhrases()
	c.mu.Unlock()

	release(loop, h)
}

// Close resets the session and ends feedback subscriptions.
func (c *Controller) Close() {
	c.Reset()
	c.events.Close()
}

type reportInput struct {
	gen        uint64
	patientID  string
	intake     scan.Intake
	assessment scan.Assessment
	frames     []scan.Frame
}

func (c *Controller) reportInput(action string) (reportInput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	if c.state != StateReporting {
		return reportInput{}, kerrors.NewInvalidState(action, string(c.state))
	}
	return reportInput{
		gen:        c.gen,
		patientID:  c.patientID,
		intake:     *c.intake,
		assessment: *c.assessment,
		frames:     append([]scan.Frame(nil), c.frames...),
	}, nil
}

// Report renders the PDF for download.
func (c *Controller) Report(ctx context.Context) (report.Document, error) {
	in, err := c.reportInput("download the report")
	if err != nil {
		return report.Document{}, err
	}
	doc, err := c.deps.Reports.Build(in.intake, in.assessment, in.frames)
	if err != nil {
		return report.Document{}, err
	}
	if c.deps.ReportsDir != "" {
		if path, err := report.SaveToFile(c.deps.ReportsDir, doc.FileName, doc.Data); err != nil {
			c.logger.Warn("saving report copy failed", zap.Error(err))
		} else {
			c.logger.Debug("report saved", zap.String("path", path))
		}
	}
	return doc, nil
}

// SendReport renders, uploads and delivers the report to the patient. A
// failure leaves the session in reporting so the operator can try again.
func (c *Controller) SendReport(ctx context.Context) (report.Receipt, error) {
	in, err := c.reportInput("send the report")
	if err != nil {
		return report.Receipt{}, err
	}
	c.mu.Lock()
	if c.busy || in.gen != c.gen {
		c.mu.Unlock()
		return report.Receipt{}, kerrors.NewInvalidState("send the report", "sending")
	}
	c.busy = true
	c.mu.Unlock()

	rc, err := c.deps.Reports.Send(context.WithoutCancel(ctx), in.patientID, in.intake, in.assessment, in.frames)

	c.mu.Lock()
	defer c.mu.Unlock()
	if in.gen != c.gen {
		return report.Receipt{}, kerrors.NewInvalidState("send the report", "reset")
	}
	c.busy = false
	if err != nil {
		e := kerrors.From(err)
		c.logger.Warn("report delivery failed", zap.String("code", string(e.Code)), zap.Error(err))
		return report.Receipt{}, e
	}
	c.delivered = rc.Delivery.Recipient
	c.logger.Info("report sent", zap.String("patient_id", in.patientID), zap.String("file", rc.FileName))
	return rc, nil
}

// Feedback subscribes to live narration events.
func (c *Controller) Feedback() (<-chan feedback.Event, func()) {
	return c.events.Subscribe()
}

// View snapshots the session for the UI.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		ID:         c.id,
		State:      c.state,
		PatientID:  c.patientID,
		FrameCount: len(c.frames),
		CanSubmit:  c.state == StateCapturing && len(c.frames) == FramesRequired,
		Delivered:  c.delivered,
		UpdatedAt:  c.lastActive,
	}
	if c.intake != nil {
		in := *c.intake
		v.Intake = &in
	}
	if c.state == StateReporting && c.assessment != nil {
		a := c.assessment
		v.Score = a.Score.String()
		v.Assessment = a.OverallAssessment
		v.Findings = append([]string(nil), a.KeyProblemPoints...)
		v.Treatments = append([]scan.Problem(nil), a.DetectedProblems...)
		v.ImageURLs = append([]string(nil), c.imageURLs...)
	}
	if c.failure != nil {
		v.Error = &ErrorView{
			Code:      c.failure.Code,
			Message:   c.failure.Message,
			Retryable: c.failure.Retryable(),
			Stage:     c.failedAt,
		}
	}
	return v
}
