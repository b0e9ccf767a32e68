package onnx

import (
	"context"
	"errors"
	"fmt"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// Runner owns one ORT session and the runtime and env it was created from.
type Runner struct {
	name    string
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session
}

// NewRunner loads the graph at modelPath into a fresh ORT session.
func NewRunner(name, modelPath string, cfg RunnerConfig) (*Runner, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = DefaultAPIVersion
	}

	r := &Runner{name: name}

	var err error
	if r.runtime, err = ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion); err != nil {
		return nil, fmt.Errorf("encoder %q: load onnxruntime %s: %w", name, cfg.LibraryPath, err)
	}
	if r.env, err = r.runtime.NewEnv("wordalign-"+name, ort.LoggingLevelWarning); err != nil {
		r.Close()
		return nil, fmt.Errorf("encoder %q: create env: %w", name, err)
	}
	if r.session, err = r.runtime.NewSession(r.env, modelPath, nil); err != nil {
		r.Close()
		return nil, fmt.Errorf("encoder %q: open %s: %w", name, modelPath, err)
	}

	return r, nil
}

// Run feeds the named inputs to the graph and returns every graph output.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("run %q: runner is closed", r.name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	feeds := make(map[string]*ort.Value, len(inputs))
	defer release(feeds)
	for name, t := range inputs {
		v, err := toValue(r.runtime, t)
		if err != nil {
			return nil, fmt.Errorf("run %q: input %q: %w", r.name, name, err)
		}
		feeds[name] = v
	}

	fetched, err := r.session.Run(ctx, feeds)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}
	defer release(fetched)

	results := make(map[string]*Tensor, len(fetched))
	for name, v := range fetched {
		t, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("run %q: output %q: %w", r.name, name, err)
		}
		results[name] = t
	}

	return results, nil
}

// Close releases the session, env and runtime. Safe to call more than once.
func (r *Runner) Close() {
	if r.session != nil {
		r.session.Close()
		r.session = nil
	}
	if r.env != nil {
		r.env.Close()
		r.env = nil
	}
	if r.runtime != nil {
		_ = r.runtime.Close()
		r.runtime = nil
	}
}

func (r *Runner) Name() string { return r.name }

func toValue(runtime *ort.Runtime, t *Tensor) (*ort.Value, error) {
	switch {
	case t == nil:
		return nil, errors.New("nil tensor")
	case t.ints != nil:
		return ort.NewTensorValue(runtime, t.ints, t.shape)
	default:
		return ort.NewTensorValue(runtime, t.floats, t.shape)
	}
}

func fromValue(v *ort.Value) (*Tensor, error) {
	elem, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("element type: %w", err)
	}

	switch elem {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}
		return Float32Tensor(data, shape)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}
		return Int64Tensor(data, shape)
	default:
		return nil, fmt.Errorf("unsupported element type %d", elem)
	}
}

func release(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
