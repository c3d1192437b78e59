// Command derain trains the multi-exit deraining network. Given a
// checkpoint name it resumes from that checkpoint when present and keeps
// rolling it forward while training.
package main

import (
	"flag"
	"fmt"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/tsawler/go-derain/config"
	"github.com/tsawler/go-derain/events"
	"github.com/tsawler/go-derain/metric"
	"github.com/tsawler/go-derain/nn"
	"github.com/tsawler/go-derain/training"
	"github.com/tsawler/go-derain/vision/dataset"
)

func main() {
	klog.InitFlags(nil)
	modelName := flag.String("model", "latest_net", "checkpoint name to resume from and roll forward")
	flag.Parse()
	defer klog.Flush()

	if err := run(config.Default(), *modelName); err != nil {
		klog.Exitf("training failed: %v", err)
	}
}

func run(cfg *config.Config, modelName string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}
	if modelName == "" {
		return fmt.Errorf("model name must not be empty")
	}

	nn.SetRandomSeed(cfg.Seed)
	net, err := nn.NewDerainNet(cfg.Channels)
	if err != nil {
		return fmt.Errorf("failed to build network: %v", err)
	}

	trainSet, err := dataset.NewRainPairDataset(cfg.TrainDir, cfg.PatchSize, true, cfg.Seed, cfg.Device)
	if err != nil {
		return fmt.Errorf("failed to open training set: %v", err)
	}
	valSet, err := dataset.NewRainPairDataset(cfg.ValDir, cfg.PatchSize, false, cfg.Seed, cfg.Device)
	if err != nil {
		return fmt.Errorf("failed to open validation set: %v", err)
	}

	trainLoader, err := training.NewDataLoader(trainSet, cfg.BatchSize, true, cfg.Workers, cfg.QueueDepth, cfg.Seed)
	if err != nil {
		return fmt.Errorf("failed to build training loader: %v", err)
	}
	valLoader, err := training.NewDataLoader(valSet, 1, false, cfg.Workers, cfg.QueueDepth, cfg.Seed)
	if err != nil {
		return fmt.Errorf("failed to build validation loader: %v", err)
	}

	oneEpoch := cfg.OneEpoch
	if oneEpoch == 0 {
		oneEpoch = trainLoader.BatchesPerEpoch()
	}

	opt, err := training.NewAdam(net.NamedParameters(), cfg.LR)
	if err != nil {
		return fmt.Errorf("failed to build optimizer: %v", err)
	}
	sched := training.NewMultiStepLR(cfg.Milestones, cfg.Gamma)

	ssim, err := metric.NewSSIM()
	if err != nil {
		return fmt.Errorf("failed to build scorer: %v", err)
	}

	writer, err := events.NewEventWriter(filepath.Join(cfg.LogDir, "run.events"))
	if err != nil {
		return fmt.Errorf("failed to open event log: %v", err)
	}
	store, err := events.NewStore(filepath.Join(cfg.LogDir, "scalars.db"), modelName)
	if err != nil {
		writer.Close()
		return fmt.Errorf("failed to open scalar store: %v", err)
	}
	sink := events.MultiSink{writer, store}
	defer sink.Close()

	sess, err := training.NewSession(net, opt, sched, ssim, sink, training.SessionOptions{
		ModelDir: cfg.ModelDir,
		Name:     modelName,
		BaseLR:   cfg.LR,
	})
	if err != nil {
		return fmt.Errorf("failed to build session: %v", err)
	}

	if err := sess.LoadCheckpoint(); err != nil {
		return err
	}

	cycling := training.NewCyclingLoader(trainLoader)
	defer cycling.Close()

	return training.RunTrainVal(sess, cycling, valLoader, training.LoopConfig{
		TotalSteps: cfg.TotalSteps,
		SaveSteps:  cfg.SaveSteps,
		OneEpoch:   oneEpoch,
		LogDir:     cfg.LogDir,
		ValLogPath: cfg.ValLogPath,
	})
}
