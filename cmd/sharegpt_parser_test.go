package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadShareGPTSizePoolParsesTokenCounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.json")
	content := `{"num_prompts": 2, "request_rate": 1.0, "prompts": [
		{"input_text": [1,2,3], "generated_text": [4,5]},
		{"input_text": [1,2,3,4,5], "generated_text": [6]}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pool, err := loadShareGPTSizePool(path)
	require.NoError(t, err)
	require.Len(t, pool, 2)
	require.Equal(t, 3, pool[0].Input)
	require.Equal(t, 2, pool[0].Output)
	require.Equal(t, 5, pool[1].Input)
	require.Equal(t, 1, pool[1].Output)
}

func TestLoadShareGPTSizePoolSkipsEmptyPrompts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.json")
	content := `{"prompts": [{"input_text": [], "generated_text": [1]}, {"input_text": [1], "generated_text": []}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pool, err := loadShareGPTSizePool(path)
	require.NoError(t, err)
	require.Empty(t, pool)
}

func TestLoadShareGPTSizePoolMissingFileErrors(t *testing.T) {
	_, err := loadShareGPTSizePool("/nonexistent/path.json")
	require.Error(t, err)
}
