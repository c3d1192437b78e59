// Package events records training scalars. Two backends are provided: an
// append-only protobuf event log for archival, and a sqlite store for ad
// hoc querying. Sinks are fanned out through MultiSink so the training
// loop writes once.
package events

import (
	"fmt"
)

// Sink receives one batch of named scalar values per training step.
type Sink interface {
	WriteScalars(step int, values map[string]float64) error
	Close() error
}

// MultiSink forwards every write to all member sinks.
type MultiSink []Sink

func (m MultiSink) WriteScalars(step int, values map[string]float64) error {
	for _, s := range m {
		if err := s.WriteScalars(step, values); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close sink: %v", err)
		}
	}
	return firstErr
}
