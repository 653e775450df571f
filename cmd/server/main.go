package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"scan-kiosk/internal/agent"
	"scan-kiosk/internal/config"
	"scan-kiosk/internal/feedback"
	"scan-kiosk/internal/patient"
	"scan-kiosk/internal/platform/logger"
	"scan-kiosk/internal/platform/storage"
	"scan-kiosk/internal/platform/telegram"
	"scan-kiosk/internal/platform/whatsapp"
	"scan-kiosk/internal/report"
	"scan-kiosk/internal/session"
)

type mediaStore interface {
	session.MediaStore
	report.MediaStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	l, err := logger.New(cfg.Log.Level, cfg.Log.Format, "scan-kiosk")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer l.Sync()

	// 1. Infrastructure
	records, closeStore, err := openRecordStore(cfg, l)
	if err != nil {
		l.Fatal("record store unavailable", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer closeStore()

	var media mediaStore
	var disk *storage.DiskStore
	switch cfg.Media.Backend {
	case config.MediaHTTP:
		media = storage.NewBucketClient(cfg.Media.Endpoint, cfg.Media.Bucket, cfg.Media.Token, cfg.Media.PublicBaseURL, cfg.Media.Timeout, l)
	default:
		disk = storage.NewDiskStore(cfg.Media.Dir, cfg.Media.PublicBaseURL)
		media = disk
	}

	// 2. Clients
	vision := agent.NewGeminiClient(agent.GeminiConfig{
		APIKey:      cfg.Vision.APIKey,
		BaseURL:     cfg.Vision.BaseURL,
		Model:       cfg.Vision.Model,
		Timeout:     cfg.Vision.Timeout,
		LiveTimeout: cfg.Vision.LiveTimeout,
	}, l)
	if !cfg.VisionConfigured() {
		l.Warn("GEMINI_API_KEY is not set; sessions will stop before the camera starts")
	}

	var speech feedback.Synthesizer
	if cfg.TTS.APIKey != "" {
		speech = agent.NewElevenLabsClient(cfg.TTS.APIKey, cfg.TTS.VoiceID, cfg.TTS.Timeout)
	}

	messenger := whatsapp.NewClient(cfg.WhatsApp.BaseURL, cfg.WhatsApp.Token, cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.Timeout, l)
	if !messenger.Configured() {
		l.Warn("WhatsApp delivery is not configured; sending reports will fail")
	}

	// 3. Services
	renderer, err := report.NewRenderer(report.Options{
		Letterheads:  cfg.Letterheads,
		FooterText:   cfg.Report.FooterText,
		TemplatePath: cfg.Report.TemplatePath,
		Compress:     true,
	})
	if err != nil {
		l.Fatal("report renderer", zap.Error(err))
	}
	reports := report.NewService(renderer, media, messenger, cfg.WhatsApp.CountryCode, l)
	if cfg.Telegram.Token != "" && cfg.Telegram.ClinicChatID != 0 {
		reports.WithClinicCopy(telegram.NewClient(cfg.Telegram.Token, cfg.WhatsApp.Timeout), cfg.Telegram.ClinicChatID)
	} else {
		l.Info("clinic copy disabled: TELEGRAM_BOT_TOKEN or CLINIC_CHAT_ID not set")
	}

	sessions := session.NewManager(session.Deps{
		Store:   records,
		Media:   media,
		Vision:  vision,
		Reports: reports,
		Speech:  speech,
		Feedback: feedback.Config{
			Interval: cfg.Feedback.Interval,
			MaxWidth: cfg.Feedback.MaxWidth,
		},
		LiveFeedback: cfg.Feedback.Enabled,
		ReportsDir:   cfg.Session.ReportsDir,
		Logger:       l,
	}, cfg.Session.IdleTTL)
	if err := sessions.Start(cfg.Session.SweepSpec); err != nil {
		l.Fatal("session sweeper", zap.Error(err))
	}

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(l))
	r.Use(middleware.Recoverer)

	// CORS for the kiosk frontend
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
			if r.Method == http.MethodOptions {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d,"vision":%t}`, sessions.Len(), cfg.VisionConfigured())
	})
	if disk != nil {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(disk.Dir()))))
	}
	r.Route("/api", func(r chi.Router) {
		session.RegisterRoutes(r, session.NewHandler(sessions, records, l))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		l.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	l.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		l.Warn("http shutdown", zap.Error(err))
	}
	sessions.Stop(ctx)
}

// openRecordStore connects the configured patient record backend and
// returns it with its close function.
func openRecordStore(cfg *config.Config, l *zap.Logger) (patient.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:       cfg.Store.RedisAddr,
			Password:   cfg.Store.RedisPass,
			DB:         cfg.Store.RedisDB,
			MaxRetries: 1,
		})
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		l.Info("connected to redis", zap.String("addr", cfg.Store.RedisAddr))
		return patient.NewRedisRepository(client, cfg.Store.Timeout, l), func() { client.Close() }, nil

	default:
		var db *sql.DB
		var err error
		// Simple retry logic for DB connection
		for i := 0; i < 10; i++ {
			db, err = sql.Open("postgres", cfg.Store.DatabaseURL)
			if err == nil {
				err = db.Ping()
			}
			if err == nil {
				break
			}
			l.Info("waiting for database", zap.Int("attempt", i+1), zap.Error(err))
			time.Sleep(time.Second)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		l.Info("connected to database")

		if err := patient.Migrate(cfg.Store.DatabaseURL); err != nil {
			db.Close()
			return nil, nil, err
		}
		l.Info("migrations applied")
		return patient.NewRepository(db, cfg.Store.Timeout, l), func() { db.Close() }, nil
	}
}
