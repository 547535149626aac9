package logfile

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LogFile is an uploaded device-log archive owned by exactly one
// principal. Soft deletion is reversible; hard deletion removes the
// backing bytes and is terminal.
type LogFile struct {
	ID          uuid.UUID `json:"id"`
	PrincipalID uuid.UUID `json:"principal_id"`

	// StoredPath is the opaque object-store reference. Cleared on hard
	// delete.
	StoredPath    string `json:"-"`
	OriginalName  string `json:"original_name"`
	SizeBytes     int64  `json:"size_bytes"`
	ContentSHA256 string `json:"content_sha256"`

	Pinned bool `json:"pinned"`

	CreatedAt     time.Time  `json:"created_at"`
	SoftDeletedAt *time.Time `json:"soft_deleted_at,omitempty"`
	HardDeletedAt *time.Time `json:"hard_deleted_at,omitempty"`
}

// New creates a LogFile record for freshly stored bytes.
func New(principalID uuid.UUID, storedPath, originalName string, sizeBytes int64, contentSHA256 string) (*LogFile, error) {
	if principalID == uuid.Nil {
		return nil, ErrNoOwner
	}
	if storedPath == "" {
		return nil, ErrNoStoredPath
	}
	if sizeBytes < 0 {
		return nil, fmt.Errorf("size cannot be negative")
	}

	return &LogFile{
		ID:            uuid.New(),
		PrincipalID:   principalID,
		StoredPath:    storedPath,
		OriginalName:  originalName,
		SizeBytes:     sizeBytes,
		ContentSHA256: contentSHA256,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// IsSoftDeleted reports whether the file is currently soft-deleted.
func (f *LogFile) IsSoftDeleted() bool { return f.SoftDeletedAt != nil }

// IsHardDeleted reports whether the backing bytes are gone.
func (f *LogFile) IsHardDeleted() bool { return f.HardDeletedAt != nil }

// Available reports whether the file can back new analyses.
func (f *LogFile) Available() bool {
	return !f.IsSoftDeleted() && !f.IsHardDeleted()
}

// SoftDelete marks the file deleted at the API layer or by the soft
// sweep. Pinned files refuse.
func (f *LogFile) SoftDelete(now time.Time) error {
	if f.Pinned {
		return ErrPinned
	}
	if f.IsHardDeleted() {
		return ErrAlreadyHardDeleted
	}
	if f.IsSoftDeleted() {
		return nil
	}
	t := now.UTC()
	f.SoftDeletedAt = &t
	return nil
}

// Restore reverses a soft delete.
func (f *LogFile) Restore() error {
	if f.IsHardDeleted() {
		return ErrAlreadyHardDeleted
	}
	f.SoftDeletedAt = nil
	return nil
}

// HardDelete marks the bytes gone and clears the stored reference.
// Callers must have removed the object first.
func (f *LogFile) HardDelete(now time.Time) error {
	if f.Pinned {
		return ErrPinned
	}
	if f.IsHardDeleted() {
		return nil
	}
	t := now.UTC()
	f.HardDeletedAt = &t
	f.StoredPath = ""
	return nil
}

var (
	ErrNoOwner            = fmt.Errorf("log file requires an owner")
	ErrNoStoredPath       = fmt.Errorf("log file requires a stored path")
	ErrPinned             = fmt.Errorf("log file is pinned")
	ErrAlreadyHardDeleted = fmt.Errorf("log file is hard-deleted")
)

// unsafeNameRunes matches everything outside the allowed filename
// alphabet. Everything it matches is replaced with underscores.
var unsafeNameRunes = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeName reduces a client-supplied filename to a safe basename:
// no directory components, no traversal, a bounded alphabet.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.TrimLeft(name, ".")
	name = unsafeNameRunes.ReplaceAllString(name, "_")
	if name == "" || name == "_" {
		name = "upload"
	}
	if len(name) > 128 {
		name = name[len(name)-128:]
	}
	return name
}
