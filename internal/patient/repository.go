package patient

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/scan"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema to the database at dbURL.
func Migrate(dbURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type postgresRepo struct {
	db      *sql.DB
	timeout time.Duration
	logger  *zap.Logger
}

// NewRepository returns a Postgres-backed Store.
func NewRepository(db *sql.DB, timeout time.Duration, logger *zap.Logger) Store {
	return &postgresRepo{db: db, timeout: timeout, logger: logger}
}

func (r *postgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *postgresRepo) Create(ctx context.Context, in scan.Intake, at time.Time) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	id := uuid.New().String()
	query := `INSERT INTO patients (id, full_name, phone_number, service_type, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, id, in.FullName, in.PhoneNumber, string(in.ServiceType), at); err != nil {
		return "", kerrors.Integration(serviceName, fmt.Errorf("insert patient: %w", err))
	}
	r.logger.Info("patient saved", zap.String("patient_id", id), zap.String("service_type", string(in.ServiceType)))
	return id, nil
}

func (r *postgresRepo) WriteReport(ctx context.Context, patientID string, rep Report) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	points, err := json.Marshal(rep.Assessment.KeyProblemPoints)
	if err != nil {
		return err
	}
	problems, err := json.Marshal(rep.Assessment.DetectedProblems)
	if err != nil {
		return err
	}
	urls, err := json.Marshal(rep.ImageURLs)
	if err != nil {
		return err
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO reports (patient_id, service_type, score, overall_assessment, key_problem_points, detected_problems, image_urls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (patient_id) DO UPDATE SET
			service_type = $2,
			score = $3,
			overall_assessment = $4,
			key_problem_points = $5,
			detected_problems = $6,
			image_urls = $7,
			created_at = $8
	`
	_, err = r.db.ExecContext(ctx, query,
		patientID, string(rep.ServiceType), rep.Assessment.ScoreValue(), rep.Assessment.OverallAssessment,
		points, problems, urls, rep.CreatedAt)
	if err != nil {
		return kerrors.Integration(serviceName, fmt.Errorf("upsert report: %w", err))
	}
	r.logger.Info("analysis report saved", zap.String("patient_id", patientID))
	return nil
}

func (r *postgresRepo) ReadReport(ctx context.Context, patientID string) (*Report, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT service_type, score, overall_assessment, key_problem_points, detected_problems, image_urls, created_at FROM reports WHERE patient_id = $1`

	var (
		rep                      Report
		serviceType              string
		score                    int
		points, problems, images []byte
	)
	rep.PatientID = patientID
	err := r.db.QueryRowContext(ctx, query, patientID).Scan(
		&serviceType,
		&score,
		&rep.Assessment.OverallAssessment,
		&points,
		&problems,
		&images,
		&rep.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, kerrors.Integration(serviceName, fmt.Errorf("select report: %w", err))
	}

	rep.ServiceType = scan.ServiceType(serviceType)
	rep.Assessment.Score = scan.Score{Kind: rep.ServiceType, Value: score}
	if len(points) > 0 {
		if err := json.Unmarshal(points, &rep.Assessment.KeyProblemPoints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal key problem points: %w", err)
		}
	}
	if len(problems) > 0 {
		if err := json.Unmarshal(problems, &rep.Assessment.DetectedProblems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal detected problems: %w", err)
		}
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &rep.ImageURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal image urls: %w", err)
		}
	}
	return &rep, nil
}
