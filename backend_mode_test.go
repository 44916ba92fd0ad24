package qsim

import (
	"errors"
	"testing"
)

func TestBackendModeString(t *testing.T) {
	tests := []struct {
		mode BackendMode
		want string
	}{
		{BackendAuto, "Auto"},
		{BackendCPU, "CPU"},
		{BackendGPU, "GPU"},
		{BackendMode(99), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.mode.String(); got != tt.want {
				t.Errorf("BackendMode(%d).String() = %q, want %q", tt.mode, got, tt.want)
			}
		})
	}
}

func TestSelectBackend(t *testing.T) {
	tests := []struct {
		name    string
		mode    BackendMode
		hasGPU  bool
		want    BackendMode
		wantErr error
	}{
		{"auto with gpu", BackendAuto, true, BackendGPU, nil},
		{"auto without gpu", BackendAuto, false, BackendCPU, nil},
		{"cpu with gpu", BackendCPU, true, BackendCPU, nil},
		{"gpu with gpu", BackendGPU, true, BackendGPU, nil},
		{"gpu without gpu", BackendGPU, false, 0, ErrNoAccelerator},
		{"invalid", BackendMode(7), true, 0, ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectBackend(tt.mode, tt.hasGPU)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("selectBackend(%v, %v) error = %v, want %v", tt.mode, tt.hasGPU, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("selectBackend(%v, %v) = %v, want %v", tt.mode, tt.hasGPU, got, tt.want)
			}
		})
	}
}

func TestParseBackendMode(t *testing.T) {
	tests := []struct {
		in      string
		want    BackendMode
		wantErr bool
	}{
		{"auto", BackendAuto, false},
		{"", BackendAuto, false},
		{"CPU", BackendCPU, false},
		{"gpu", BackendGPU, false},
		{"Gpu", BackendGPU, false},
		{"tpu", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackendMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackendMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOption) {
				t.Errorf("ParseBackendMode(%q) error = %v, want ErrInvalidOption", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseBackendMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
