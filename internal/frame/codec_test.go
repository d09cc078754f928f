package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"
)

func TestRoundTripMultipleFrames(t *testing.T) {
	values := []map[string]any{
		{"action": "llm_call", "n": float64(1)},
		{"action": "memory_write", "ok": true},
		{"nested": map[string]any{"a": []any{float64(1), float64(2)}}},
	}

	var buf bytes.Buffer
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		if err := WriteFrame(&buf, b); err != nil {
			t.Fatal(err)
		}
	}

	r := NewReader(&buf)
	for i, want := range values {
		payload, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		var got map[string]any
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("frame %d: unmarshal: %v", i, err)
		}
		wb, _ := json.Marshal(want)
		gb, _ := json.Marshal(got)
		if !bytes.Equal(wb, gb) {
			t.Errorf("frame %d: got %s want %s", i, gb, wb)
		}
	}

	if _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("expected EOF after last frame, got %v", err)
	}
}

func TestTruncatedFrameProducesNoEmission(t *testing.T) {
	full, _ := json.Marshal(map[string]any{"action": "llm_call"})
	var complete bytes.Buffer
	if err := WriteFrame(&complete, full); err != nil {
		t.Fatal(err)
	}

	// Only the length prefix plus half the payload is available.
	truncated := complete.Bytes()[:4+len(full)/2]
	r := NewReader(bytes.NewReader(truncated))
	if _, err := r.ReadFrame(); err == nil {
		t.Fatal("expected an error for a truncated frame, got nil")
	}
}

func TestOversizeFrameAborts(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxFrameBytes)
	r := NewReader(bytes.NewReader(lenBuf[:]))
	_, err := r.ReadFrame()
	if err != ErrFrameTooLarge {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestWriteFrameRejectsOversizePayload(t *testing.T) {
	big := make([]byte, MaxFrameBytes)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, big); err != ErrFrameTooLarge {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}
