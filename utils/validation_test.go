package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleContext struct {
	IPAddress string `json:"ip_address,omitempty" validate:"omitempty,max=8"`
}

type sampleEvent struct {
	EventType string        `json:"event_type" validate:"required,max=12"`
	Severity  string        `json:"severity,omitempty" validate:"omitempty,oneof=low high"`
	Score     *int          `json:"score,omitempty" validate:"omitempty,min=0,max=100"`
	Codes     []string      `json:"codes,omitempty" validate:"omitempty,max=2,dive,required"`
	Context   *sampleContext `json:"context,omitempty"`
	Internal  string        `json:"-" validate:"-"`
}

func intPtr(i int) *int { return &i }

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name       string
		input      sampleEvent
		wantFields map[string]string
	}{
		{
			name:  "valid struct",
			input: sampleEvent{EventType: "user.created", Severity: "low", Score: intPtr(10)},
		},
		{
			name:       "missing required field uses json name",
			input:      sampleEvent{},
			wantFields: map[string]string{"event_type": "event_type is required"},
		},
		{
			name:       "max length",
			input:      sampleEvent{EventType: "much.too.long.type"},
			wantFields: map[string]string{"event_type": "event_type must be at most 12"},
		},
		{
			name:       "oneof",
			input:      sampleEvent{EventType: "a", Severity: "extreme"},
			wantFields: map[string]string{"severity": "severity must be one of: low high"},
		},
		{
			name:       "numeric range",
			input:      sampleEvent{EventType: "a", Score: intPtr(101)},
			wantFields: map[string]string{"score": "score must be at most 100"},
		},
		{
			name:       "nested field path",
			input:      sampleEvent{EventType: "a", Context: &sampleContext{IPAddress: "2001:db8::1:2:3"}},
			wantFields: map[string]string{"context.ip_address": "context.ip_address must be at most 8"},
		},
		{
			name:       "dive into slice",
			input:      sampleEvent{EventType: "a", Codes: []string{"ok", ""}},
			wantFields: map[string]string{"codes[1]": "codes[1] is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, tt.wantFields, GetValidationFields(err))
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	t.Run("without fields", func(t *testing.T) {
		err := &ValidationError{Message: "Validation failed"}
		assert.Equal(t, "Validation failed", err.Error())
	})

	t.Run("fields are listed in key order", func(t *testing.T) {
		err := &ValidationError{
			Message: "Validation failed",
			Fields: map[string]string{
				"event_type": "event_type is required",
				"action":     "action is required",
			},
		}
		assert.Equal(t, "Validation failed: action is required; event_type is required", err.Error())
	})
}

func TestNewFieldError(t *testing.T) {
	err := NewFieldError("occurred_at", "occurred_at must be a valid timestamp")

	assert.True(t, IsValidationError(err))
	assert.Equal(t, map[string]string{"occurred_at": "occurred_at must be a valid timestamp"}, err.Fields)
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{Message: "test"}))
	assert.False(t, IsValidationError(assert.AnError))
	assert.False(t, IsValidationError(nil))
}

func TestGetValidationFields(t *testing.T) {
	fields := map[string]string{"field1": "error1"}

	assert.Equal(t, fields, GetValidationFields(&ValidationError{Message: "test", Fields: fields}))
	assert.Nil(t, GetValidationFields(assert.AnError))
}

func TestIsObjectID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"65f1c2a9e4b0a1b2c3d4e5f6", true},
		{"65F1C2A9E4B0A1B2C3D4E5F6", true},
		{"65f1c2a9e4b0a1b2c3d4e5f", false},
		{"user_2abcdefghijklmnopqrstu", false},
		{"zzf1c2a9e4b0a1b2c3d4e5f6", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsObjectID(tt.in))
		})
	}
}

func TestValidateStringLength(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		min, max  int
		wantError bool
	}{
		{"within bounds", "tenant-1", 1, 128, false},
		{"too short", "", 1, 128, true},
		{"too long", "abcdef", 0, 5, true},
		{"no limits", "anything", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStringLength(tt.value, "scope", tt.min, tt.max)
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "scope")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
