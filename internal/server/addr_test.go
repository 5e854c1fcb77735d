package server

import "testing"

func TestDetectBindAddress(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		expected string
	}{
		{"loopback route", "127.0.0.1:9", "127.0.0.1"},
		{"unusable target", "127.0.0.1:notaport", FallbackBindAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectBindAddress(tt.target, testLogger()); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}
