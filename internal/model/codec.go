package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// CodecVersion is the envelope version written by this build
const CodecVersion = 1

// compressThreshold is the encoded size above which data is zstd-compressed
const compressThreshold = 4 << 10

// Entity kinds carried in the envelope
const (
	KindTask      = "task"
	KindWorkflow  = "workflow"
	KindAgent     = "agent"
	KindHeartbeat = "heartbeat"
	KindSwarm     = "swarm"
)

var (
	// ErrUnsupportedVersion is returned when an envelope was written by a newer build
	ErrUnsupportedVersion = errors.New("unsupported codec version")

	// ErrKindMismatch is returned when decoding an envelope into the wrong entity
	ErrKindMismatch = errors.New("codec kind mismatch")
)

type envelope struct {
	Version    int             `json:"v"`
	Kind       string          `json:"kind"`
	WrittenAt  time.Time       `json:"written_at"`
	Compressed bool            `json:"z,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Blob       []byte          `json:"blob,omitempty"`
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// Encode wraps v in a versioned envelope of the given kind
func Encode(kind string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	env := envelope{
		Version:   CodecVersion,
		Kind:      kind,
		WrittenAt: time.Now().UTC(),
	}
	if len(data) > compressThreshold {
		enc, _, err := codecs()
		if err != nil {
			return nil, fmt.Errorf("failed to init zstd: %w", err)
		}
		env.Compressed = true
		env.Blob = enc.EncodeAll(data, nil)
	} else {
		env.Data = data
	}

	return json.Marshal(env)
}

// Decode unwraps an envelope of the given kind into v
func Decode(raw []byte, kind string, v any) error {
	_, err := DecodeWithMeta(raw, kind, v)
	return err
}

// DecodeWithMeta is like Decode and also returns the envelope write time
func DecodeWithMeta(raw []byte, kind string, v any) (time.Time, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.Version < 1 || env.Version > CodecVersion {
		return time.Time{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if env.Kind != kind {
		return time.Time{}, fmt.Errorf("%w: want %s, got %s", ErrKindMismatch, kind, env.Kind)
	}

	data := []byte(env.Data)
	if env.Compressed {
		_, dec, err := codecs()
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to init zstd: %w", err)
		}
		data, err = dec.DecodeAll(env.Blob, nil)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to decompress %s: %w", kind, err)
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return env.WrittenAt, nil
}

// EncodeTask encodes a task for the shared store
func EncodeTask(t *Task) ([]byte, error) { return Encode(KindTask, t) }

// DecodeTask decodes a task written by EncodeTask
func DecodeTask(raw []byte) (*Task, error) {
	var t Task
	if err := Decode(raw, KindTask, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// EncodeWorkflow encodes a workflow header for the shared store
func EncodeWorkflow(w *Workflow) ([]byte, error) { return Encode(KindWorkflow, w.Header()) }

// DecodeWorkflow decodes a workflow header written by EncodeWorkflow
func DecodeWorkflow(raw []byte) (*Workflow, error) {
	var w Workflow
	if err := Decode(raw, KindWorkflow, &w); err != nil {
		return nil, err
	}
	return &w, nil
}
