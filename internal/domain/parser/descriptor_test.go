package parser

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func descriptor(mut func(*Descriptor)) *Descriptor {
	d := &Descriptor{
		ModeKey:        "bandwidth",
		DisplayName:    "Bandwidth",
		Enabled:        true,
		VisibleToUsers: true,
		OutputShape:    ShapeCSV,
	}
	if mut != nil {
		mut(d)
	}
	return d
}

func TestDescriptor_Validate(t *testing.T) {
	assert.NoError(t, descriptor(nil).Validate())

	tests := []struct {
		name string
		mut  func(*Descriptor)
	}{
		{"uppercase mode key", func(d *Descriptor) { d.ModeKey = "Bandwidth" }},
		{"shell metacharacters", func(d *Descriptor) { d.ModeKey = "bw;rm -rf" }},
		{"empty mode key", func(d *Descriptor) { d.ModeKey = "" }},
		{"unknown shape", func(d *Descriptor) { d.OutputShape = "xml" }},
		{"blocks without pattern", func(d *Descriptor) { d.OutputShape = ShapeStructuredBlocks }},
		{"bad block pattern", func(d *Descriptor) {
			d.OutputShape = ShapeStructuredBlocks
			d.BlockPattern = "(["
		}},
		{"negative timeout", func(d *Descriptor) { d.TimeoutSeconds = -1 }},
		{"command arg with space", func(d *Descriptor) { d.CommandArgs = []string{"--flag", "a b"} }},
		{"command arg with semicolon", func(d *Descriptor) { d.CommandArgs = []string{"x;y"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, descriptor(tt.mut).Validate())
		})
	}
}

func TestDescriptor_Timeout(t *testing.T) {
	def := 10 * time.Minute
	assert.Equal(t, def, descriptor(nil).Timeout(def))
	assert.Equal(t, 30*time.Second,
		descriptor(func(d *Descriptor) { d.TimeoutSeconds = 30 }).Timeout(def))
}

func TestDescriptor_VisibleTo(t *testing.T) {
	allow := &Permission{PrincipalID: uuid.New(), ModeKey: "bandwidth", Allow: true}
	deny := &Permission{PrincipalID: uuid.New(), ModeKey: "bandwidth", Allow: false}

	tests := []struct {
		name     string
		mut      func(*Descriptor)
		isAdmin  bool
		override *Permission
		want     bool
	}{
		{"plain user, visible mode", nil, false, nil, true},
		{"disabled mode hidden from everyone", func(d *Descriptor) { d.Enabled = false }, true, allow, false},
		{"admin-only hidden from user even with allow row", func(d *Descriptor) { d.AdminOnly = true }, false, allow, false},
		{"admin-only visible to admin", func(d *Descriptor) { d.AdminOnly = true }, true, nil, true},
		{"deny row hides visible mode", nil, false, deny, false},
		{"allow row reveals hidden mode", func(d *Descriptor) { d.VisibleToUsers = false }, false, allow, true},
		{"hidden mode invisible to user", func(d *Descriptor) { d.VisibleToUsers = false }, false, nil, false},
		{"hidden mode still visible to admin", func(d *Descriptor) { d.VisibleToUsers = false }, true, nil, true},
		{"deny row hides from admin too", nil, true, deny, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, descriptor(tt.mut).VisibleTo(tt.isAdmin, tt.override))
		})
	}
}
