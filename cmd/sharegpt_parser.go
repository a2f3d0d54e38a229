package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fleetsim/fleetsim/workload"
)

// shareGPTPrompt corresponds to each request inside the "prompts" JSON
// array of a tokenized ShareGPT-style trace file.
type shareGPTPrompt struct {
	InputText     []int `json:"input_text"`
	GeneratedText []int `json:"generated_text"`
}

// shareGPTTrace corresponds to the root JSON object of a trace file.
type shareGPTTrace struct {
	NumPrompts  int              `json:"num_prompts"`
	RequestRate float64          `json:"request_rate"`
	Prompts     []shareGPTPrompt `json:"prompts"`
}

// loadShareGPTSizePool reads a tokenized ShareGPT trace file and
// returns its (input, output) token-count pairs as a workload.SizePool,
// letting --workload-trace replace the mean/stddev size distributions
// with sizes drawn from a real trace.
func loadShareGPTSizePool(path string) ([]workload.SizePair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace %q: %w", path, err)
	}
	var trace shareGPTTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("parsing trace %q: %w", path, err)
	}

	pool := make([]workload.SizePair, 0, len(trace.Prompts))
	for _, p := range trace.Prompts {
		if len(p.InputText) == 0 || len(p.GeneratedText) == 0 {
			continue
		}
		pool = append(pool, workload.SizePair{Input: len(p.InputText), Output: len(p.GeneratedText)})
	}
	return pool, nil
}
