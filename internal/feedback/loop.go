// Package feedback runs the advisory live-commentary loop shown while the
// patient is in front of the camera.
package feedback

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scan-kiosk/internal/agent"
	"scan-kiosk/internal/camera"
	"scan-kiosk/internal/scan"
)

const (
	DefaultInterval = 3500 * time.Millisecond
	DefaultMaxWidth = 320
)

type FrameSource interface {
	Snapshot() (scan.Frame, error)
}

type Analyzer interface {
	AnalyzeLiveFrame(ctx context.Context, frame scan.Frame, lc agent.LiveContext) (string, error)
}

// Narrator speaks or displays a phrase.
type Narrator interface {
	Narrate(ctx context.Context, phrase string)
}

type Config struct {
	Interval time.Duration
	MaxWidth int
}

// Subject is who the loop is talking to.
type Subject struct {
	Name        string
	ServiceType scan.ServiceType
}

// Phrases is the set of phrases already narrated in one session, in order.
type Phrases struct {
	mu   sync.Mutex
	seen map[string]struct{}
	list []string
}

func NewPhrases() *Phrases {
	return &Phrases{seen: make(map[string]struct{})}
}

// Add records phrase and reports whether it was new.
func (p *Phrases) Add(phrase string) bool {
	key := strings.ToLower(strings.TrimSpace(phrase))
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[key]; ok {
		return false
	}
	p.seen[key] = struct{}{}
	p.list = append(p.list, phrase)
	return true
}

func (p *Phrases) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.list...)
}

// Loop samples the camera on a fixed interval. At most one sample is in
// flight at any time; ticks that arrive while one is running are dropped.
type Loop struct {
	cfg      Config
	src      FrameSource
	analyzer Analyzer
	narrator Narrator
	subject  Subject
	phrases  *Phrases
	logger   *zap.Logger

	inFlight atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Start launches the loop. It runs until Stop is called or ctx ends.
func Start(ctx context.Context, cfg Config, src FrameSource, analyzer Analyzer, narrator Narrator, subject Subject, phrases *Phrases, logger *zap.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = DefaultMaxWidth
	}
	if phrases == nil {
		phrases = NewPhrases()
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{
		cfg:      cfg,
		src:      src,
		analyzer: analyzer,
		narrator: narrator,
		subject:  subject,
		phrases:  phrases,
		logger:   logger,
		cancel:   cancel,
	}
	l.wg.Add(1)
	go l.run(ctx)
	return l
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.inFlight.CompareAndSwap(false, true) {
				continue
			}
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				defer l.inFlight.Store(false)
				l.sample(ctx)
			}()
		}
	}
}

func (l *Loop) sample(ctx context.Context) {
	frame, err := l.src.Snapshot()
	if err != nil {
		l.logger.Debug("live sample skipped", zap.Error(err))
		return
	}
	if !frame.Ready() {
		return
	}
	small, err := camera.Downscale(frame, l.cfg.MaxWidth)
	if err != nil {
		l.logger.Debug("live frame downscale failed", zap.Error(err))
		return
	}

	phrase, err := l.analyzer.AnalyzeLiveFrame(ctx, small, agent.LiveContext{
		Name:           l.subject.Name,
		ServiceType:    l.subject.ServiceType,
		PreviouslyUsed: l.phrases.List(),
	})
	if err != nil {
		l.logger.Debug("live analysis failed", zap.Error(err))
		return
	}
	phrase = strings.TrimSpace(phrase)
	if phrase == "" || ctx.Err() != nil {
		return
	}
	if !l.phrases.Add(phrase) {
		return
	}
	l.narrator.Narrate(ctx, phrase)
}

// Stop cancels the loop and waits for any in-flight sample to finish.
func (l *Loop) Stop() {
	l.stopOnce.Do(l.cancel)
	l.wg.Wait()
}
