package main

import (
	"bytes"
	"testing"
)

func TestRunRejectsUnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"-bogus"}, &out, &errOut); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if errOut.Len() == 0 {
		t.Fatal("expected usage output on stderr")
	}
}

func TestRunFailsOnUnknownStorageDriver(t *testing.T) {
	t.Setenv("DICOMCORE_STORAGE_DRIVER", "tape")
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}
