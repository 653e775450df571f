package patient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/scan"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, Store) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisRepository(client, time.Second, zap.NewNop())
}

func TestRedis_CreateStoresRecord(t *testing.T) {
	mr, repo := setupTestRedis(t)

	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	id, err := repo.Create(context.Background(), scan.Intake{
		FullName: "Asha Rao", PhoneNumber: "9876543210", ServiceType: scan.Facial,
	}, at)
	require.NoError(t, err)

	raw, err := mr.Get("patients/" + id)
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "Asha Rao", rec.FullName)
	assert.Equal(t, scan.Facial, rec.ServiceType)
	assert.True(t, at.Equal(rec.CreatedAt))
}

func TestRedis_ReportRoundTrip(t *testing.T) {
	_, repo := setupTestRedis(t)
	ctx := context.Background()

	err := repo.WriteReport(ctx, "p-1", Report{
		ServiceType: scan.Facial,
		Assessment:  sampleAssessment(),
		ImageURLs:   []string{"u1", "u2", "u3"},
	})
	require.NoError(t, err)

	rep, err := repo.ReadReport(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, "p-1", rep.PatientID)
	assert.Equal(t, 78, rep.Assessment.ScoreValue())
	assert.Equal(t, scan.Facial, rep.Assessment.Kind())
	assert.Equal(t, []string{"Dryness", "Fine lines"}, rep.Assessment.KeyProblemPoints)
	assert.Equal(t, sampleAssessment().DetectedProblems, rep.Assessment.DetectedProblems)
	assert.Equal(t, []string{"u1", "u2", "u3"}, rep.ImageURLs)
	assert.False(t, rep.CreatedAt.IsZero())
}

func TestRedis_ReadReportMissing(t *testing.T) {
	_, repo := setupTestRedis(t)

	rep, err := repo.ReadReport(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, rep)
}

func TestRedis_Unavailable(t *testing.T) {
	mr, repo := setupTestRedis(t)
	mr.Close()

	_, err := repo.Create(context.Background(), scan.Intake{FullName: "A", PhoneNumber: "1234567890", ServiceType: scan.Dental}, time.Now())
	assert.True(t, kerrors.Is(err, kerrors.ErrIntegration))
}
