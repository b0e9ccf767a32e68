package onnx

import (
	"context"
	"fmt"
)

// Input names fed to encoder graphs.
const (
	InputIDs      = "input_ids"
	AttentionMask = "attention_mask"
)

// GraphRunner is the minimal runner contract required by Encoder.
// *Runner satisfies it; tests substitute fakes.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// Encoder turns batches of token-id sequences into contextual hidden states
// using a transformer encoder graph.
type Encoder struct {
	runner     GraphRunner
	outputName string
	padID      int64
}

func NewEncoder(runner GraphRunner, outputName string, padID int64) *Encoder {
	return &Encoder{runner: runner, outputName: outputName, padID: padID}
}

// Encode right-pads seqs to a common length, runs the graph once, and
// returns the hidden state of every real token: out[b][k] is the vector of
// token k in sequence b. Empty sequences yield no vectors.
func (e *Encoder) Encode(ctx context.Context, seqs [][]int64) ([][][]float32, error) {
	out := make([][][]float32, len(seqs))

	maxLen := 0
	for _, s := range seqs {
		maxLen = max(maxLen, len(s))
	}
	if maxLen == 0 {
		return out, nil
	}

	batch := len(seqs)
	ids := make([]int64, batch*maxLen)
	mask := make([]int64, batch*maxLen)
	for b, s := range seqs {
		row := ids[b*maxLen : (b+1)*maxLen]
		for k := range row {
			if k < len(s) {
				row[k] = s[k]
				mask[b*maxLen+k] = 1
			} else {
				row[k] = e.padID
			}
		}
	}

	shape := []int64{int64(batch), int64(maxLen)}
	idsT, err := Int64Tensor(ids, shape)
	if err != nil {
		return nil, fmt.Errorf("encoder input ids: %w", err)
	}
	maskT, err := Int64Tensor(mask, shape)
	if err != nil {
		return nil, fmt.Errorf("encoder attention mask: %w", err)
	}

	results, err := e.runner.Run(ctx, map[string]*Tensor{InputIDs: idsT, AttentionMask: maskT})
	if err != nil {
		return nil, err
	}

	hidden, ok := results[e.outputName]
	if !ok {
		return nil, fmt.Errorf("encoder %q: missing output %q", e.runner.Name(), e.outputName)
	}
	hs := hidden.Shape()
	if len(hs) != 3 || hs[0] != int64(batch) || hs[1] != int64(maxLen) {
		return nil, fmt.Errorf("encoder %q: output %q has shape %v, want [%d %d H]", e.runner.Name(), e.outputName, hs, batch, maxLen)
	}
	data, err := hidden.Float32s()
	if err != nil {
		return nil, fmt.Errorf("encoder %q: %w", e.runner.Name(), err)
	}

	width := int(hs[2])
	for b, s := range seqs {
		vecs := make([][]float32, len(s))
		for k := range s {
			off := (b*maxLen + k) * width
			vecs[k] = data[off : off+width : off+width]
		}
		out[b] = vecs
	}

	return out, nil
}

func (e *Encoder) Name() string { return e.runner.Name() }

func (e *Encoder) Close() { e.runner.Close() }
