package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/scan"
)

// Key layout mirrors a JSON tree: patients/{id} and reports/{id}.
const (
	patientKeyPrefix = "patients/"
	reportKeyPrefix  = "reports/"
)

type redisRepo struct {
	client  *redis.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisRepository returns a Redis-backed Store.
func NewRedisRepository(client *redis.Client, timeout time.Duration, logger *zap.Logger) Store {
	return &redisRepo{client: client, timeout: timeout, logger: logger}
}

func (r *redisRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *redisRepo) Create(ctx context.Context, in scan.Intake, at time.Time) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rec := Record{
		ID:          uuid.New().String(),
		FullName:    in.FullName,
		PhoneNumber: in.PhoneNumber,
		ServiceType: in.ServiceType,
		CreatedAt:   at,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := r.client.Set(ctx, patientKeyPrefix+rec.ID, data, 0).Err(); err != nil {
		return "", kerrors.Integration(serviceName, fmt.Errorf("set patient: %w", err))
	}
	r.logger.Info("patient saved", zap.String("patient_id", rec.ID), zap.String("service_type", string(in.ServiceType)))
	return rec.ID, nil
}

func (r *redisRepo) WriteReport(ctx context.Context, patientID string, rep Report) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rep.PatientID = patientID
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, reportKeyPrefix+patientID, data, 0).Err(); err != nil {
		return kerrors.Integration(serviceName, fmt.Errorf("set report: %w", err))
	}
	r.logger.Info("analysis report saved", zap.String("patient_id", patientID))
	return nil
}

func (r *redisRepo) ReadReport(ctx context.Context, patientID string) (*Report, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	data, err := r.client.Get(ctx, reportKeyPrefix+patientID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, kerrors.Integration(serviceName, fmt.Errorf("get report: %w", err))
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &rep, nil
}
