package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		mode  string
		level string
	}{
		{"dev default level", "dev", ""},
		{"prod debug", "prod", "debug"},
		{"unknown level falls back", "production", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.mode, tt.level)
			require.NoError(t, err)
			require.NotNil(t, log)
			log.With("case_id", "c1").Debug("hello", "k", 1)
		})
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	assert.NotPanics(t, func() {
		log.Info("ignored", "a", 1)
		log.With("x", 2).Error("ignored")
		log.Sync()
	})
}
