// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"fmt"
	"testing"
)

func TestReadResponse(t *testing.T) {
	t.Run("normal body", func(t *testing.T) {
		data, err := ReadResponse(bytes.NewReader([]byte(`{"status":"ok"}`)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"status":"ok"}` {
			t.Fatalf("got %q, want %q", data, `{"status":"ok"}`)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		data, err := ReadResponse(bytes.NewReader(nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(data) != 0 {
			t.Fatalf("expected empty, got %d bytes", len(data))
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		_, err := ReadResponse(&failReader{})
		if err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestErrorBody(t *testing.T) {
	t.Run("returns body as string", func(t *testing.T) {
		got := ErrorBody(bytes.NewReader([]byte(`{"message":"Bad credentials"}`)))
		if got != `{"message":"Bad credentials"}` {
			t.Fatalf("got %q, want %q", got, `{"message":"Bad credentials"}`)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		if got := ErrorBody(bytes.NewReader(nil)); got != "" {
			t.Fatalf("expected empty, got %q", got)
		}
	})

	t.Run("read error returns empty", func(t *testing.T) {
		if got := ErrorBody(&failReader{}); got != "" {
			t.Fatalf("expected empty from failing reader, got %q", got)
		}
	})
}

// failReader always returns an error on Read.
type failReader struct{}

func (*failReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("simulated read failure")
}
