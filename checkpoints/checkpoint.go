package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tsawler/go-derain/nn"
)

// Checkpoint is a complete training snapshot: model weights, the step
// clock, and optimizer state. Loading one restores training exactly where
// it left off.
type Checkpoint struct {
	Weights        []WeightTensor  `json:"weights"`
	TrainingState  TrainingState   `json:"training_state"`
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`
	Metadata       Metadata        `json:"metadata"`
}

// WeightTensor stores one named parameter.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState tracks where in training this checkpoint was taken.
type TrainingState struct {
	Step         int     `json:"step"`
	LearningRate float64 `json:"learning_rate"`
}

// OptimizerState captures optimizer hyperparameters and per-parameter
// moment tensors.
type OptimizerState struct {
	Type       string             `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
	StateData  []OptimizerTensor  `json:"state_data,omitempty"`
}

// OptimizerTensor stores one optimizer moment buffer.
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// Metadata describes the checkpoint itself.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// ExtractWeights copies the given parameters into a checkpoint weight list.
func ExtractWeights(params []nn.NamedParameter) ([]WeightTensor, error) {
	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("failed to extract weight %s: %v", p.Name, err)
		}

		cp := make([]float32, len(data))
		copy(cp, data)
		shape := make([]int, len(p.Tensor.Shape))
		copy(shape, p.Tensor.Shape)

		weights = append(weights, WeightTensor{Name: p.Name, Shape: shape, Data: cp})
	}
	return weights, nil
}

// LoadWeights writes checkpoint weights back into matching parameters.
// Every parameter must be present in the checkpoint with the same shape.
func LoadWeights(weights []WeightTensor, params []nn.NamedParameter) error {
	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint has no weight named %s", p.Name)
		}
		if len(w.Shape) != len(p.Tensor.Shape) {
			return fmt.Errorf("weight %s shape mismatch: checkpoint %v, model %v", p.Name, w.Shape, p.Tensor.Shape)
		}
		for i := range w.Shape {
			if w.Shape[i] != p.Tensor.Shape[i] {
				return fmt.Errorf("weight %s shape mismatch: checkpoint %v, model %v", p.Name, w.Shape, p.Tensor.Shape)
			}
		}
		if err := p.Tensor.SetData(w.Data); err != nil {
			return fmt.Errorf("failed to load weight %s: %v", p.Name, err)
		}
	}
	return nil
}

// New assembles a checkpoint from model parameters and training state.
func New(params []nn.NamedParameter, step int, lr float64, opt *OptimizerState, description string) (*Checkpoint, error) {
	weights, err := ExtractWeights(params)
	if err != nil {
		return nil, err
	}

	return &Checkpoint{
		Weights: weights,
		TrainingState: TrainingState{
			Step:         step,
			LearningRate: lr,
		},
		OptimizerState: opt,
		Metadata: Metadata{
			Version:     "1.0.0",
			Framework:   "go-derain",
			CreatedAt:   time.Now().UTC(),
			Description: description,
		},
	}, nil
}

// Save writes the checkpoint as JSON. The write goes through a temp file
// and rename so a crash never leaves a truncated checkpoint behind.
func (c *Checkpoint) Save(path string) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %v", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close checkpoint: %v", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize checkpoint: %v", err)
	}

	return nil
}

// Load reads a checkpoint from disk. A missing file surfaces as an
// os.IsNotExist error so callers can treat it as a cold start.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %v", path, err)
	}

	return &c, nil
}
