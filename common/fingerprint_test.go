package common

import (
	"strings"
	"testing"
)

func TestFingerprint(t *testing.T) {

	fingerprint, err := Fingerprint(strings.NewReader("hello world"))

	if err != nil {
		t.Fatalf("Failed to fingerprint, %v", err)
	}

	expected := "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"

	if fingerprint != expected {
		t.Fatalf("Expected %s, got %s", expected, fingerprint)
	}
}
