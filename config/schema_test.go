package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, "http://json-schema.org/draft-07/schema#", schema["$schema"])
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	for _, key := range []string{"active_profile", "profiles", "reconnect", "stream", "launcher", "notifications", "aggregate", "server"} {
		assert.Contains(t, props, key)
	}
	assert.NotContains(t, props, "Extensions")
}

func TestSchemaValidation(t *testing.T) {
	validator, err := NewSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		config    map[string]interface{}
		wantError bool
	}{
		{
			name: "valid profile",
			config: map[string]interface{}{
				"profiles": []interface{}{
					map[string]interface{}{"id": "a", "url": "http://x"},
				},
			},
		},
		{
			name: "profile missing url",
			config: map[string]interface{}{
				"profiles": []interface{}{
					map[string]interface{}{"id": "a"},
				},
			},
			wantError: true,
		},
		{
			name:      "unknown top-level key",
			config:    map[string]interface{}{"bogus": true},
			wantError: true,
		},
		{
			name:      "duration must be a string",
			config:    map[string]interface{}{"reconnect": map[string]interface{}{"initial": 5}},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.config)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
