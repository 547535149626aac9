package parser

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// OutputShape selects the normalizer applied to a parser's stdout.
// The set is closed: every mode declares exactly one shape.
type OutputShape string

const (
	ShapeCSV              OutputShape = "csv"
	ShapeKeyValue         OutputShape = "key_value"
	ShapeStructuredBlocks OutputShape = "structured_blocks"
	ShapeFreeText         OutputShape = "free_text"
)

// ParseOutputShape converts the stored representation.
func ParseOutputShape(s string) (OutputShape, error) {
	switch OutputShape(s) {
	case ShapeCSV, ShapeKeyValue, ShapeStructuredBlocks, ShapeFreeText:
		return OutputShape(s), nil
	default:
		return "", fmt.Errorf("unknown output shape %q", s)
	}
}

// ModeKeyPattern is the whitelist for mode keys; keys feed subprocess
// argv vectors, so nothing outside it is ever accepted.
var ModeKeyPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ArgPattern bounds fixed command arguments the same way. No spaces, no
// shell metacharacters.
var ArgPattern = regexp.MustCompile(`^[A-Za-z0-9._=/-]{1,128}$`)

// Descriptor is one parse mode as stored in the registry. The parser
// binary path is deliberately absent: binaries come from configuration
// only, keyed by ModeKey.
type Descriptor struct {
	ModeKey     string `json:"mode_key"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`

	Enabled        bool `json:"enabled"`
	VisibleToUsers bool `json:"visible_to_users"`
	AdminOnly      bool `json:"admin_only"`

	OutputShape OutputShape `json:"output_shape"`

	// CommandArgs are fixed extra argv tokens appended after the binary
	// (subcommands, flags). They pass through ArgPattern; user input
	// never lands here.
	CommandArgs []string `json:"command_args,omitempty"`

	// BlockPattern is the block header regex for structured_blocks
	// modes (e.g. `^Modem \d+$`); empty otherwise.
	BlockPattern string `json:"block_pattern,omitempty"`

	// TimeoutSeconds overrides the global parser timeout; 0 means
	// the default applies.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the descriptor's internal consistency.
func (d *Descriptor) Validate() error {
	if !ModeKeyPattern.MatchString(d.ModeKey) {
		return fmt.Errorf("mode key %q does not match %s", d.ModeKey, ModeKeyPattern)
	}
	if _, err := ParseOutputShape(string(d.OutputShape)); err != nil {
		return err
	}
	for _, arg := range d.CommandArgs {
		if !ArgPattern.MatchString(arg) {
			return fmt.Errorf("mode %q: command argument %q does not match %s", d.ModeKey, arg, ArgPattern)
		}
	}
	if d.OutputShape == ShapeStructuredBlocks {
		if d.BlockPattern == "" {
			return fmt.Errorf("mode %q: structured_blocks requires a block pattern", d.ModeKey)
		}
		if _, err := regexp.Compile(d.BlockPattern); err != nil {
			return fmt.Errorf("mode %q: invalid block pattern: %w", d.ModeKey, err)
		}
	}
	if d.TimeoutSeconds < 0 {
		return fmt.Errorf("mode %q: negative timeout", d.ModeKey)
	}
	return nil
}

// Timeout resolves the per-mode timeout against the global default.
func (d *Descriptor) Timeout(def time.Duration) time.Duration {
	if d.TimeoutSeconds > 0 {
		return time.Duration(d.TimeoutSeconds) * time.Second
	}
	return def
}

// Permission is a per-principal override of descriptor-level
// visibility. A deny row hides an otherwise visible mode; an allow row
// reveals a hidden one (admin_only modes stay admin-only).
type Permission struct {
	PrincipalID uuid.UUID `json:"principal_id"`
	ModeKey     string    `json:"mode_key"`
	Allow       bool      `json:"allow"`
}

// VisibleTo evaluates the full visibility rule for one principal.
// override is nil when no permission row exists.
func (d *Descriptor) VisibleTo(isAdmin bool, override *Permission) bool {
	if !d.Enabled {
		return false
	}
	if d.AdminOnly && !isAdmin {
		return false
	}
	if override != nil {
		return override.Allow
	}
	if isAdmin {
		return true
	}
	return d.VisibleToUsers
}
