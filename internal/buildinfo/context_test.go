package buildinfo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_Getters(t *testing.T) {
	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
	}{
		{name: "nil context", ctx: nil, version: UnknownValue, buildDate: UnknownValue},
		{name: "empty fields", ctx: &Context{}, version: UnknownValue, buildDate: UnknownValue},
		{
			name:      "populated",
			ctx:       &Context{Version: "v1.2.0", BuildDate: "2026-01-02"},
			version:   "v1.2.0",
			buildDate: "2026-01-02",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.buildDate, tt.ctx.GetBuildDate())
		})
	}
}

func TestNew_AssignsInstanceID(t *testing.T) {
	a := New("v1", "today")
	b := New("v1", "today")

	_, err := uuid.Parse(a.GetInstanceID())
	require.NoError(t, err)
	assert.NotEqual(t, a.GetInstanceID(), b.GetInstanceID())
	assert.Equal(t, UnknownValue, (&Context{}).GetInstanceID())
}
