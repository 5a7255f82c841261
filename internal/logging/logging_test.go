package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogWriters(t *testing.T) {
	defer SetLogWriters(LogWriters{})

	var ops, diag bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag})

	Opsf("merged %d files", 2)
	Diagf("source %s", "a.las")
	Tracef("should be dropped")

	if !strings.Contains(ops.String(), "[plotmerge] ") || !strings.Contains(ops.String(), "merged 2 files") {
		t.Errorf("ops output = %q", ops.String())
	}
	if !strings.Contains(diag.String(), "source a.las") {
		t.Errorf("diag output = %q", diag.String())
	}
	if strings.Contains(ops.String()+diag.String(), "dropped") {
		t.Error("trace message leaked into another stream")
	}
}

func TestDisabledStreams(t *testing.T) {
	defer SetLogWriters(LogWriters{})

	var buf bytes.Buffer
	SetLogWriters(LogWriters{Trace: &buf})
	SetLogWriters(LogWriters{})

	// Must not panic with every stream disabled.
	Opsf("x")
	Diagf("y")
	Tracef("z")

	if buf.Len() != 0 {
		t.Errorf("expected no output after disabling, got %q", buf.String())
	}
}
