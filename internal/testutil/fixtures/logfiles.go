package fixtures

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/logfile"
)

// LogFileBuilder builds stored-archive records.
type LogFileBuilder struct {
	t            *testing.T
	principalID  uuid.UUID
	storedPath   string
	originalName string
	sizeBytes    int64
	pinned       bool
	createdAt    time.Time
	softDeleted  *time.Time
}

func NewLogFileBuilder(t *testing.T, principalID uuid.UUID) *LogFileBuilder {
	t.Helper()
	return &LogFileBuilder{
		t:            t,
		principalID:  principalID,
		storedPath:   principalID.String() + "/" + uuid.NewString() + "_device.tar.gz",
		originalName: "device.tar.gz",
		sizeBytes:    1 << 20,
		createdAt:    time.Now().UTC(),
	}
}

func (b *LogFileBuilder) WithName(name string) *LogFileBuilder {
	b.originalName = name
	return b
}

func (b *LogFileBuilder) WithSize(size int64) *LogFileBuilder {
	b.sizeBytes = size
	return b
}

func (b *LogFileBuilder) Pinned() *LogFileBuilder {
	b.pinned = true
	return b
}

func (b *LogFileBuilder) CreatedAt(at time.Time) *LogFileBuilder {
	b.createdAt = at
	return b
}

func (b *LogFileBuilder) SoftDeletedAt(at time.Time) *LogFileBuilder {
	b.softDeleted = &at
	return b
}

func (b *LogFileBuilder) Build() *logfile.LogFile {
	b.t.Helper()
	sum := sha256.Sum256([]byte(b.originalName))
	f, err := logfile.New(b.principalID, b.storedPath, b.originalName, b.sizeBytes, hex.EncodeToString(sum[:]))
	require.NoError(b.t, err)
	f.Pinned = b.pinned
	f.CreatedAt = b.createdAt
	f.SoftDeletedAt = b.softDeleted
	return f
}
