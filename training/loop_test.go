package training

import (
	"bufio"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tsawler/go-derain/nn"
)

func testLoopFixture(t *testing.T) (*Session, *CyclingLoader, *DataLoader, string) {
	t.Helper()

	nn.SetRandomSeed(30)
	net, err := nn.NewDerainNet(2)
	if err != nil {
		t.Fatalf("NewDerainNet failed: %v", err)
	}

	dir := t.TempDir()
	sess := newTestSession(t, net, dir, nil)

	trainDS := newSynthDataset(t, 2, 48)
	trainLoader, err := NewDataLoader(trainDS, 1, false, 1, 1, 1)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	valDS := newSynthDataset(t, 2, 48)
	valLoader, err := NewDataLoader(valDS, 1, false, 1, 1, 1)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	cycling := NewCyclingLoader(trainLoader)
	t.Cleanup(cycling.Close)
	return sess, cycling, valLoader, dir
}

func TestRunTrainValProducesArtifacts(t *testing.T) {
	sess, train, val, dir := testLoopFixture(t)

	cfg := LoopConfig{
		TotalSteps: 4,
		SaveSteps:  2,
		OneEpoch:   2,
		LogDir:     filepath.Join(dir, "logdir"),
		ValLogPath: filepath.Join(dir, "logdir", "val_log.txt"),
	}

	if err := RunTrainVal(sess, train, val, cfg); err != nil {
		t.Fatalf("RunTrainVal failed: %v", err)
	}

	if sess.Step() != 4 {
		t.Errorf("final step = %d, want 4", sess.Step())
	}

	// SaveSteps/16 floors to zero, so the rolling checkpoint refreshes
	// every step.
	if _, err := os.Stat(sess.CheckpointPath()); err != nil {
		t.Errorf("rolling checkpoint missing: %v", err)
	}

	// Snapshots land at steps 2 and 4, named by step and split.
	for _, name := range []string{"2_train.jpg", "4_train.jpg"} {
		f, err := os.Open(filepath.Join(cfg.LogDir, name))
		if err != nil {
			t.Errorf("failed to open snapshot: %v", err)
			continue
		}
		img, err := jpeg.Decode(f)
		f.Close()
		if err != nil {
			t.Errorf("snapshot is not a decodable JPEG: %v", err)
			continue
		}
		// Triptych: rainy, derained, clean side by side.
		if img.Bounds().Dx() != 48*3 || img.Bounds().Dy() != 48 {
			t.Errorf("snapshot is %dx%d, want %dx%d", img.Bounds().Dx(), img.Bounds().Dy(), 48*3, 48)
		}
	}
}

func TestRunTrainValValidatesAtFinalStep(t *testing.T) {
	sess, train, val, dir := testLoopFixture(t)

	// With OneEpoch 1 the validation cadence is every 20 steps, which a
	// 4-step run never reaches. The final step closes that gap.
	cfg := LoopConfig{
		TotalSteps: 4,
		SaveSteps:  100,
		OneEpoch:   1,
		LogDir:     filepath.Join(dir, "logdir"),
		ValLogPath: filepath.Join(dir, "logdir", "val_log.txt"),
	}

	if err := RunTrainVal(sess, train, val, cfg); err != nil {
		t.Fatalf("RunTrainVal failed: %v", err)
	}

	f, err := os.Open(cfg.ValLogPath)
	if err != nil {
		t.Fatalf("validation log missing: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 1 {
		t.Fatalf("validation log has %d rows, want 1", len(lines))
	}

	// step, epoch, then the seven metric columns.
	fields := strings.Split(lines[0], "\t")
	if len(fields) != 2+len(valColumns) {
		t.Fatalf("validation row has %d fields, want %d", len(fields), 2+len(valColumns))
	}
	if fields[0] != "4" {
		t.Errorf("validation step = %s, want 4", fields[0])
	}
	if fields[1] != "4" {
		t.Errorf("validation epoch = %s, want 4", fields[1])
	}
}

func TestRunTrainValPermanentCheckpoints(t *testing.T) {
	sess, train, val, dir := testLoopFixture(t)

	// OneEpoch 1 saves a permanent checkpoint every 10 steps.
	cfg := LoopConfig{
		TotalSteps: 20,
		SaveSteps:  100,
		OneEpoch:   1,
		LogDir:     filepath.Join(dir, "logdir"),
		ValLogPath: filepath.Join(dir, "logdir", "val_log.txt"),
	}

	if err := RunTrainVal(sess, train, val, cfg); err != nil {
		t.Fatalf("RunTrainVal failed: %v", err)
	}

	for _, name := range []string{"net_10_epoch", "net_20_epoch"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("permanent checkpoint %s missing: %v", name, err)
		}
	}
}

func TestRunTrainValConfigValidation(t *testing.T) {
	sess, train, val, dir := testLoopFixture(t)

	cfg := LoopConfig{
		TotalSteps: 0,
		SaveSteps:  2,
		OneEpoch:   1,
		LogDir:     dir,
		ValLogPath: filepath.Join(dir, "val_log.txt"),
	}
	if err := RunTrainVal(sess, train, val, cfg); err == nil {
		t.Errorf("expected error for zero total steps, got nil")
	}
}
