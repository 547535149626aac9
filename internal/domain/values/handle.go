package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Handle represents a login handle value object. Handles are unique
// case-insensitively; the stored form is always lowercase.
type Handle struct {
	name string
}

// Handles start with a letter or digit and allow dot, dash, underscore.
var handleRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,63}$`)

// NewHandle creates a new Handle value object with validation
func NewHandle(name string) (Handle, error) {
	if name == "" {
		return Handle{}, fmt.Errorf("handle cannot be empty")
	}

	normalized := strings.TrimSpace(strings.ToLower(name))

	if !handleRegex.MatchString(normalized) {
		return Handle{}, fmt.Errorf("handle must be 3-64 characters of letters, digits, dot, dash or underscore")
	}

	return Handle{name: normalized}, nil
}

// MustNewHandle creates Handle and panics on error (for constants/tests)
func MustNewHandle(name string) Handle {
	h, err := NewHandle(name)
	if err != nil {
		panic(err)
	}
	return h
}

// String returns the normalized handle
func (h Handle) String() string {
	return h.name
}

// IsEmpty checks if the handle is empty
func (h Handle) IsEmpty() bool {
	return h.name == ""
}

// Equal checks if two Handle values are equal
func (h Handle) Equal(other Handle) bool {
	return h.name == other.name
}

// MarshalJSON implements JSON marshaling
func (h Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.name)
}

// UnmarshalJSON implements JSON unmarshaling
func (h *Handle) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	handle, err := NewHandle(name)
	if err != nil {
		return err
	}

	*h = handle
	return nil
}

// Value implements driver.Valuer for database storage
func (h Handle) Value() (driver.Value, error) {
	return h.name, nil
}

// Scan implements sql.Scanner for database retrieval
func (h *Handle) Scan(value interface{}) error {
	if value == nil {
		*h = Handle{}
		return nil
	}

	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("cannot scan %T into Handle", value)
	}

	handle, err := NewHandle(str)
	if err != nil {
		return err
	}

	*h = handle
	return nil
}
