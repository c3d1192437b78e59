package training

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/tsawler/go-derain/checkpoints"
	"github.com/tsawler/go-derain/metric"
	"github.com/tsawler/go-derain/nn"
	"github.com/tsawler/go-derain/tensor"
)

// Model is the network a session trains: a pyramid forward pass plus the
// usual parameter and mode plumbing.
type Model interface {
	Forward(o, o2, o4 *tensor.Tensor) (*nn.Outputs, error)
	NamedParameters() []nn.NamedParameter
	ParameterCount() int
	Train()
	Eval()
	IsTraining() bool
}

// Scorer produces a differentiable similarity score in [-1, 1] between two
// images. Higher is better; the training loss negates it.
type Scorer interface {
	Score(x, y *tensor.Tensor) (*tensor.Tensor, error)
}

// Sink receives the scalars of each step.
type Sink interface {
	WriteScalars(step int, values map[string]float64) error
}

// Loss weights for the auxiliary exits. The full-scale outputs carry full
// weight; the half and quarter exits are lightly supervised.
const (
	exit2LossWeight = 0.05
	exit4LossWeight = 0.001
)

// SessionOptions configures a training session.
type SessionOptions struct {
	// ModelDir is where checkpoints live.
	ModelDir string
	// Name is the rolling checkpoint filename, e.g. "latest_net".
	Name string
	// BaseLR is the learning rate before schedule decay.
	BaseLR float64
}

// Session owns one training run: the model, its optimizer and schedule, the
// step clock, and checkpoint lifecycle. All mutation of the step clock goes
// through TrainStep and LoadCheckpoint.
type Session struct {
	model  Model
	opt    Optimizer
	sched  LRScheduler
	scorer Scorer
	sink   Sink

	modelDir string
	name     string
	baseLR   float64
	step     int
}

// NewSession wires a session together. The sink may be nil to disable
// scalar recording.
func NewSession(model Model, opt Optimizer, sched LRScheduler, scorer Scorer, sink Sink, opts SessionOptions) (*Session, error) {
	if opts.ModelDir == "" {
		return nil, fmt.Errorf("model directory must be set")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("checkpoint name must be set")
	}
	if opts.BaseLR <= 0 {
		return nil, fmt.Errorf("base learning rate must be positive, got %g", opts.BaseLR)
	}

	return &Session{
		model:    model,
		opt:      opt,
		sched:    sched,
		scorer:   scorer,
		sink:     sink,
		modelDir: opts.ModelDir,
		name:     opts.Name,
		baseLR:   opts.BaseLR,
	}, nil
}

// Step returns the global step clock: the number of training steps taken
// across all runs of this session.
func (s *Session) Step() int {
	return s.step
}

// ParameterCount returns the model's learnable value count.
func (s *Session) ParameterCount() int {
	return s.model.ParameterCount()
}

// SaveRollingCheckpoint overwrites the rolling checkpoint the session was
// configured with.
func (s *Session) SaveRollingCheckpoint() error {
	return s.SaveCheckpoint(s.name)
}

// CheckpointPath returns where the rolling checkpoint lives.
func (s *Session) CheckpointPath() string {
	return filepath.Join(s.modelDir, s.name)
}

// LoadCheckpoint restores weights, optimizer state and the step clock from
// the rolling checkpoint. A missing checkpoint is a cold start, not an
// error. The learning rate is recomputed from the schedule at the restored
// step rather than trusted from the file.
func (s *Session) LoadCheckpoint() error {
	path := s.CheckpointPath()
	ckpt, err := checkpoints.Load(path)
	if os.IsNotExist(err) {
		klog.Infof("no checkpoint at %s, starting from scratch", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %v", err)
	}

	if err := checkpoints.LoadWeights(ckpt.Weights, s.model.NamedParameters()); err != nil {
		return fmt.Errorf("failed to restore weights: %v", err)
	}
	if ckpt.OptimizerState != nil {
		if err := s.opt.LoadState(ckpt.OptimizerState); err != nil {
			return fmt.Errorf("failed to restore optimizer: %v", err)
		}
	}

	s.step = ckpt.TrainingState.Step
	s.opt.SetLR(s.sched.GetLR(s.step, s.baseLR))

	klog.Infof("restored checkpoint %s at step %d, lr %g", path, s.step, s.opt.GetLR())
	return nil
}

// SaveCheckpoint writes the current session state under the given name in
// the model directory.
func (s *Session) SaveCheckpoint(name string) error {
	optState, err := s.opt.State()
	if err != nil {
		return fmt.Errorf("failed to export optimizer: %v", err)
	}

	ckpt, err := checkpoints.New(s.model.NamedParameters(), s.step, s.opt.GetLR(), optState, "")
	if err != nil {
		return fmt.Errorf("failed to build checkpoint: %v", err)
	}

	return ckpt.Save(filepath.Join(s.modelDir, name))
}

// trainLoss combines the five scored outputs into the negated similarity
// loss, returning the loss tensor and the individual scores.
func (s *Session) trainLoss(outputs *nn.Outputs, batch *Batch) (*tensor.Tensor, map[string]float64, error) {
	type term struct {
		tag    string
		pred   *tensor.Tensor
		target *tensor.Tensor
		weight float64
	}
	terms := []term{
		{"ssim1", outputs.Out1, batch.B, 1},
		{"ssim2", outputs.Out2, batch.B, 1},
		{"ssim3", outputs.Out3, batch.B, 1},
		{"ssim_exit2", outputs.Exit2, batch.B2, exit2LossWeight},
		{"ssim_exit4", outputs.Exit4, batch.B4, exit4LossWeight},
	}

	scores := make(map[string]float64, len(terms))
	var loss *tensor.Tensor
	for _, t := range terms {
		score, err := s.scorer.Score(t.pred, t.target)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to score %s: %v", t.tag, err)
		}
		v, err := score.Item()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %v", t.tag, err)
		}
		scores[t.tag] = float64(v)

		weighted := tensor.ScaleAutograd(score, -t.weight)
		if loss == nil {
			loss = weighted
		} else {
			loss = tensor.AddAutograd(loss, weighted)
		}
	}

	return loss, scores, nil
}

// TrainStep runs one optimization step on a batch and advances the step
// clock. It returns the primary output for snapshotting plus the scalars
// of the step, which are also forwarded to the sink.
func (s *Session) TrainStep(batch *Batch) (*tensor.Tensor, map[string]float64, error) {
	if err := batch.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid batch: %v", err)
	}

	s.model.Train()
	lr := s.sched.GetLR(s.step, s.baseLR)
	s.opt.SetLR(lr)

	outputs, err := s.model.Forward(batch.O, batch.O2, batch.O4)
	if err != nil {
		return nil, nil, fmt.Errorf("forward pass failed: %v", err)
	}

	loss, scores, err := s.trainLoss(outputs, batch)
	if err != nil {
		return nil, nil, err
	}

	s.opt.ZeroGrad()
	if err := loss.Backward(); err != nil {
		return nil, nil, fmt.Errorf("backward pass failed: %v", err)
	}
	if err := s.opt.Step(); err != nil {
		return nil, nil, fmt.Errorf("optimizer step failed: %v", err)
	}
	s.step++

	lossVal, err := loss.Item()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read loss: %v", err)
	}

	scalars := map[string]float64{
		"loss": float64(lossVal),
		"lr":   lr,
	}
	for tag, v := range scores {
		scalars[tag] = v
	}

	if s.sink != nil {
		if err := s.sink.WriteScalars(s.step, scalars); err != nil {
			return nil, nil, fmt.Errorf("failed to record scalars: %v", err)
		}
	}

	return outputs.Out1, scalars, nil
}

// EvalStep scores one batch without touching weights, gradients or the
// step clock. It returns the L1 loss of the primary output alongside
// similarity and signal-to-noise metrics for each of the three full-scale
// restorations against the clean image.
func (s *Session) EvalStep(batch *Batch) (map[string]float64, error) {
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch: %v", err)
	}

	wasTraining := s.model.IsTraining()
	s.model.Eval()
	defer func() {
		if wasTraining {
			s.model.Train()
		}
	}()

	outputs, err := s.model.Forward(batch.O, batch.O2, batch.O4)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}

	score := func(pred, target *tensor.Tensor) (float64, error) {
		t, err := s.scorer.Score(pred, target)
		if err != nil {
			return 0, err
		}
		v, err := t.Item()
		return float64(v), err
	}

	ssim1, err := score(outputs.Out1, batch.B)
	if err != nil {
		return nil, fmt.Errorf("failed to score out1: %v", err)
	}
	ssim2, err := score(outputs.Out2, batch.B)
	if err != nil {
		return nil, fmt.Errorf("failed to score out2: %v", err)
	}
	ssim4, err := score(outputs.Out3, batch.B)
	if err != nil {
		return nil, fmt.Errorf("failed to score out3: %v", err)
	}

	psnr1, err := metric.PSNR(outputs.Out1, batch.B)
	if err != nil {
		return nil, fmt.Errorf("failed to measure out1: %v", err)
	}
	psnr2, err := metric.PSNR(outputs.Out2, batch.B)
	if err != nil {
		return nil, fmt.Errorf("failed to measure out2: %v", err)
	}
	psnr4, err := metric.PSNR(outputs.Out3, batch.B)
	if err != nil {
		return nil, fmt.Errorf("failed to measure out3: %v", err)
	}

	loss, err := l1Loss(outputs.Out1, batch.B)
	if err != nil {
		return nil, fmt.Errorf("failed to compute loss: %v", err)
	}

	return map[string]float64{
		"loss":  loss,
		"ssim1": ssim1,
		"psnr1": psnr1,
		"ssim2": ssim2,
		"psnr2": psnr2,
		"ssim4": ssim4,
		"psnr4": psnr4,
	}, nil
}

// l1Loss is the mean absolute pixel difference.
func l1Loss(pred, target *tensor.Tensor) (float64, error) {
	diff, err := tensor.Sub(pred, target)
	if err != nil {
		return 0, err
	}
	abs, err := tensor.Abs(diff)
	if err != nil {
		return 0, err
	}
	mean, err := tensor.Mean(abs)
	if err != nil {
		return 0, err
	}
	v, err := mean.Item()
	return float64(v), err
}
