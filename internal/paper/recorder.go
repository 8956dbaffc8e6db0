package paper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fxagent-go/internal/execution"
	"fxagent-go/internal/signal"
)

// Entry is one line of the decision journal.
type Entry struct {
	Type   string          `json:"type"` // "fill" or "signal"
	Fill   *execution.Fill `json:"fill,omitempty"`
	Signal *SignalEntry    `json:"signal,omitempty"`
}

// SignalEntry records a decision with the prices that produced it.
type SignalEntry struct {
	Action    signal.Action `json:"action"`
	Current   float64       `json:"current"`
	Predicted float64       `json:"predicted"`
	Ts        time.Time     `json:"ts"`
	Filled    []string      `json:"zero_filled,omitempty"`
}

// JSONLRecorder appends fills and signals as JSON lines for later audit.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single fill.
func (r *JSONLRecorder) Record(fill execution.Fill) {
	r.write(Entry{Type: "fill", Fill: &fill})
}

// RecordSignal writes a decision along with the schema features that were zero-filled for it.
func (r *JSONLRecorder) RecordSignal(sig signal.Signal, zeroFilled []string) {
	r.write(Entry{Type: "signal", Signal: &SignalEntry{
		Action:    sig.Action,
		Current:   sig.Current,
		Predicted: sig.Predicted,
		Ts:        sig.Ts,
		Filled:    zeroFilled,
	}})
}

func (r *JSONLRecorder) write(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	_ = r.enc.Encode(e)
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
