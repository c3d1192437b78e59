// Package config holds the full training configuration as one explicit
// object. Nothing reads ambient globals; the caller builds a Config,
// validates it, and passes it down.
package config

import (
	"fmt"

	"github.com/tsawler/go-derain/tensor"
)

// Config is everything a training run needs.
type Config struct {
	// Paths.
	LogDir     string
	ModelDir   string
	ValLogPath string
	TrainDir   string
	ValDir     string

	// Data.
	BatchSize  int
	PatchSize  int
	Workers    int
	QueueDepth int

	// Optimization.
	LR         float64
	Milestones []int
	Gamma      float64

	// Cadences. OneEpoch left at zero is derived from the training set.
	SaveSteps  int
	OneEpoch   int
	TotalSteps int

	// Model.
	Channels int

	// Reproducibility and placement.
	Seed   int64
	Device tensor.DeviceType
}

// Default returns a runnable configuration with the standard training
// hyperparameters.
func Default() *Config {
	return &Config{
		LogDir:     "./logdir",
		ModelDir:   "./models",
		ValLogPath: "./logdir/val_log.txt",
		TrainDir:   "./data/train",
		ValDir:     "./data/val",
		BatchSize:  16,
		PatchSize:  64,
		Workers:    4,
		QueueDepth: 2,
		LR:         0.0005,
		Milestones: []int{60000, 90000},
		Gamma:      0.1,
		SaveSteps:  1600,
		TotalSteps: 120000,
		Channels:   24,
		Seed:       1,
		Device:     tensor.CPU,
	}
}

func (c *Config) Validate() error {
	if c.LogDir == "" || c.ModelDir == "" || c.ValLogPath == "" {
		return fmt.Errorf("log, model and validation log paths must be set")
	}
	if c.TrainDir == "" || c.ValDir == "" {
		return fmt.Errorf("train and validation data directories must be set")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.PatchSize < 8 || c.PatchSize%8 != 0 {
		return fmt.Errorf("patch size must be a positive multiple of 8, got %d", c.PatchSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("queue depth must be positive, got %d", c.QueueDepth)
	}
	if c.LR <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.LR)
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in (0, 1], got %g", c.Gamma)
	}
	for _, m := range c.Milestones {
		if m < 1 {
			return fmt.Errorf("milestones must be positive steps, got %d", m)
		}
	}
	if c.SaveSteps < 1 {
		return fmt.Errorf("save steps must be positive, got %d", c.SaveSteps)
	}
	if c.OneEpoch < 0 {
		return fmt.Errorf("epoch length must not be negative, got %d", c.OneEpoch)
	}
	if c.TotalSteps < 1 {
		return fmt.Errorf("total steps must be positive, got %d", c.TotalSteps)
	}
	if c.Channels < 1 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.Device != tensor.CPU {
		return fmt.Errorf("unsupported device %s", c.Device)
	}
	return nil
}
