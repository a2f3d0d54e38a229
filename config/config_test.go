package config

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadLimits(t *testing.T) {
	cfg := Default()
	cfg.Limits.MaxNumSeq = 0
	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestValidateRejectsBadKVPerc(t *testing.T) {
	cfg := Default()
	cfg.Limits.MaxKVPercBeforeRecompute = 1.5
	require.Error(t, cfg.Validate())
}

func TestValidateQueueingPerc(t *testing.T) {
	assert.NoError(t, ValidateQueueingPerc(0))
	assert.NoError(t, ValidateQueueingPerc(math.Inf(1)))
	assert.Error(t, ValidateQueueingPerc(-1))
}

func TestLoadMissingFileIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadUnreadableFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	require.Error(t, err)
}
