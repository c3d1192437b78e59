package training

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/tsawler/go-derain/metric"
)

// LoopConfig sets the cadences of the training loop. All cadences are
// expressed in steps.
type LoopConfig struct {
	// TotalSteps is where training stops.
	TotalSteps int
	// SaveSteps drives the image snapshot cadence; the rolling checkpoint
	// refreshes sixteen times as often.
	SaveSteps int
	// OneEpoch is the number of steps in one pass over the training set.
	// Validation runs every 20 epochs, permanent checkpoints every 10.
	OneEpoch int
	// LogDir receives image snapshots.
	LogDir string
	// ValLogPath is the TSV file validation results append to.
	ValLogPath string
}

func (c *LoopConfig) validate() error {
	if c.TotalSteps < 1 {
		return fmt.Errorf("total steps must be positive, got %d", c.TotalSteps)
	}
	if c.SaveSteps < 1 {
		return fmt.Errorf("save steps must be positive, got %d", c.SaveSteps)
	}
	if c.OneEpoch < 1 {
		return fmt.Errorf("epoch length must be positive, got %d", c.OneEpoch)
	}
	if c.LogDir == "" {
		return fmt.Errorf("log directory must be set")
	}
	if c.ValLogPath == "" {
		return fmt.Errorf("validation log path must be set")
	}
	return nil
}

// RunTrainVal drives the session until the step clock reaches TotalSteps,
// interleaving rolling checkpoints, image snapshots, validation passes and
// permanent per-epoch checkpoints at their cadences. A validation pass also
// runs at the final step when the cadence would otherwise skip the tail of
// training.
func RunTrainVal(sess *Session, train *CyclingLoader, val *DataLoader, cfg LoopConfig) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid loop config: %v", err)
	}

	rollingEvery := cfg.SaveSteps / 16
	if rollingEvery < 1 {
		rollingEvery = 1
	}
	valEvery := cfg.OneEpoch * 20
	permanentEvery := cfg.OneEpoch * 10

	klog.Infof("training from step %d to %d, %d parameters", sess.Step(), cfg.TotalSteps, sess.ParameterCount())

	for sess.Step() < cfg.TotalSteps {
		batch, err := train.Next()
		if err != nil {
			return fmt.Errorf("failed to load training batch: %v", err)
		}

		out1, scalars, err := sess.TrainStep(batch)
		if err != nil {
			return fmt.Errorf("training step failed: %v", err)
		}
		step := sess.Step()

		klog.V(1).Infof("step %d loss %.6f lr %g", step, scalars["loss"], scalars["lr"])

		if step%rollingEvery == 0 {
			if err := sess.SaveRollingCheckpoint(); err != nil {
				return fmt.Errorf("failed to save rolling checkpoint: %v", err)
			}
		}

		if step%cfg.SaveSteps == 0 {
			path := filepath.Join(cfg.LogDir, fmt.Sprintf("%d_%s.jpg", step, snapshotLabel))
			if err := SnapshotImage(path, batch, out1.Detach()); err != nil {
				return fmt.Errorf("failed to save snapshot: %v", err)
			}
			klog.Infof("step %d wrote snapshot %s", step, path)
		}

		if step%valEvery == 0 || (step == cfg.TotalSteps && step%valEvery != 0) {
			if err := runValidation(sess, val, step, cfg); err != nil {
				return err
			}
		}

		if step%permanentEvery == 0 {
			name := fmt.Sprintf("net_%d_epoch", step/cfg.OneEpoch)
			if err := sess.SaveCheckpoint(name); err != nil {
				return fmt.Errorf("failed to save epoch checkpoint: %v", err)
			}
			klog.Infof("step %d saved checkpoint %s", step, name)
		}
	}

	return nil
}

// snapshotLabel names the data split the snapshot cadence draws from.
const snapshotLabel = "train"

// valColumns fixes the TSV column order of the validation log.
var valColumns = []string{"loss", "ssim1", "psnr1", "ssim2", "psnr2", "ssim4", "psnr4"}

// runValidation scores the whole validation set and appends the averaged
// metrics as one TSV row.
func runValidation(sess *Session, val *DataLoader, step int, cfg LoopConfig) error {
	val.Reset()
	acc := metric.NewAccumulator()

	for {
		batch, err := val.Next()
		if err == ErrExhausted {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to load validation batch: %v", err)
		}

		metrics, err := sess.EvalStep(batch)
		if err != nil {
			return fmt.Errorf("validation step failed: %v", err)
		}
		acc.Add(metrics)
	}

	means, err := acc.Average()
	if err != nil {
		return fmt.Errorf("validation produced no results: %v", err)
	}

	epoch := step / cfg.OneEpoch
	klog.Infof("validation at step %d (epoch %d): loss %.6f ssim1 %.4f psnr1 %.2f",
		step, epoch, means["loss"], means["ssim1"], means["psnr1"])

	return appendValLog(cfg.ValLogPath, step, epoch, means)
}

func appendValLog(path string, step, epoch int, means map[string]float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create validation log directory: %v", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open validation log: %v", err)
	}

	line := fmt.Sprintf("%d\t%d", step, epoch)
	for _, col := range valColumns {
		line += fmt.Sprintf("\t%.6f", means[col])
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append validation log: %v", err)
	}
	return f.Close()
}
