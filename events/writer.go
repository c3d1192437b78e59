package events

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event is one decoded record from an event log.
type Event struct {
	Step     int
	WallTime float64
	Values   map[string]float64
}

// EventWriter appends length-delimited protobuf records to a .events file.
// Each record is a struct holding the step, a wall-clock timestamp, and the
// scalar values of that step.
type EventWriter struct {
	f   *os.File
	w   *bufio.Writer
	now func() time.Time
}

// NewEventWriter opens (or creates) an event log for appending.
func NewEventWriter(path string) (*EventWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %v", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %v", err)
	}

	return &EventWriter{f: f, w: bufio.NewWriter(f), now: time.Now}, nil
}

func (e *EventWriter) WriteScalars(step int, values map[string]float64) error {
	fields := map[string]interface{}{
		"step":      float64(step),
		"wall_time": float64(e.now().UnixNano()) / 1e9,
	}
	for tag, v := range values {
		fields[tag] = v
	}

	record, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("failed to build event record: %v", err)
	}

	data, err := proto.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode event record: %v", err)
	}

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
	if _, err := e.w.Write(lenBuf[:n]); err != nil {
		return fmt.Errorf("failed to write event record: %v", err)
	}
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write event record: %v", err)
	}

	return e.w.Flush()
}

func (e *EventWriter) Close() error {
	if err := e.w.Flush(); err != nil {
		e.f.Close()
		return fmt.Errorf("failed to flush event log: %v", err)
	}
	return e.f.Close()
}

// ReadEvents decodes every record in an event log.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %v", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var out []Event
	for {
		size, err := binary.ReadUvarint(r)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("corrupt event log %s: %v", path, err)
		}

		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("corrupt event log %s: %v", path, err)
		}

		var record structpb.Struct
		if err := proto.Unmarshal(buf, &record); err != nil {
			return nil, fmt.Errorf("corrupt event log %s: %v", path, err)
		}

		ev := Event{Values: make(map[string]float64)}
		for name, v := range record.GetFields() {
			num, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				continue
			}
			switch name {
			case "step":
				ev.Step = int(num.NumberValue)
			case "wall_time":
				ev.WallTime = num.NumberValue
			default:
				ev.Values[name] = num.NumberValue
			}
		}
		out = append(out, ev)
	}
}
