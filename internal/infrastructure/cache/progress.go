package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	downloadProgressPrefix = "dla:progress:download:"
	analysisProgressPrefix = "dla:progress:analysis:"

	downloadProgressTTL = 120 * time.Second
	analysisProgressTTL = 10 * time.Minute
)

// DownloadProgress is what /download-progress returns while a URL
// ingestion is streaming.
type DownloadProgress struct {
	Downloading bool  `json:"downloading"`
	Downloaded  int64 `json:"downloaded"`
	Total       int64 `json:"total"`
	Pct         int   `json:"pct"`
}

// AnalysisProgress is the fast-path progress record for a running
// analysis; the database row lags behind it.
type AnalysisProgress struct {
	AnalysisID  uuid.UUID `json:"analysis_id"`
	ProgressPct int       `json:"progress_pct"`
	ModeKey     string    `json:"mode_key,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProgressStore publishes short-TTL progress records to Redis so
// clients can poll without touching the database. All operations are
// best-effort: a Redis failure never fails the caller's request.
type ProgressStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewProgressStore(client *redis.Client, logger *zap.Logger) *ProgressStore {
	return &ProgressStore{client: client, logger: logger}
}

// SetDownload publishes download progress for a principal.
func (s *ProgressStore) SetDownload(ctx context.Context, principalID uuid.UUID, p DownloadProgress) {
	s.set(ctx, downloadProgressPrefix+principalID.String(), p, downloadProgressTTL)
}

// GetDownload reads download progress; a missing key means no
// download is in flight.
func (s *ProgressStore) GetDownload(ctx context.Context, principalID uuid.UUID) (DownloadProgress, bool) {
	var p DownloadProgress
	ok := s.get(ctx, downloadProgressPrefix+principalID.String(), &p)
	return p, ok
}

// ClearDownload removes the progress key on every exit path of a URL
// ingestion.
func (s *ProgressStore) ClearDownload(ctx context.Context, principalID uuid.UUID) {
	if err := s.client.Del(ctx, downloadProgressPrefix+principalID.String()).Err(); err != nil {
		s.logger.Debug("progress delete failed", zap.Error(err))
	}
}

// SetAnalysis publishes live progress for a running analysis.
func (s *ProgressStore) SetAnalysis(ctx context.Context, p AnalysisProgress) {
	s.set(ctx, analysisProgressPrefix+p.AnalysisID.String(), p, analysisProgressTTL)
}

// GetAnalysis reads live progress for an analysis, if any.
func (s *ProgressStore) GetAnalysis(ctx context.Context, analysisID uuid.UUID) (AnalysisProgress, bool) {
	var p AnalysisProgress
	ok := s.get(ctx, analysisProgressPrefix+analysisID.String(), &p)
	return p, ok
}

// ClearAnalysis removes the live progress key once a job is terminal.
func (s *ProgressStore) ClearAnalysis(ctx context.Context, analysisID uuid.UUID) {
	if err := s.client.Del(ctx, analysisProgressPrefix+analysisID.String()).Err(); err != nil {
		s.logger.Debug("progress delete failed", zap.Error(err))
	}
}

func (s *ProgressStore) set(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("progress marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.Debug("progress publish failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *ProgressStore) get(ctx context.Context, key string, dest interface{}) bool {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Debug("progress read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Error("progress unmarshal failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// HealthCheck pings Redis with a short deadline.
func (s *ProgressStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
