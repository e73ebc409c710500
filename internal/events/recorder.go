package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// JSONRecorder writes each signal as one JSON line.
type JSONRecorder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONRecorder creates a recorder writing to w.
func NewJSONRecorder(w io.Writer) *JSONRecorder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONRecorder{enc: enc}
}

// Record implements Recorder.
func (r *JSONRecorder) Record(_ context.Context, signal *Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(signal)
}
