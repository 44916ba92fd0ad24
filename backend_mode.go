package qsim

import (
	"fmt"
	"strings"
)

// BackendMode selects where kernels execute.
type BackendMode int

const (
	// BackendAuto uses the registered GPU accelerator when there is one
	// and the CPU runner otherwise.
	BackendAuto BackendMode = iota

	// BackendCPU always uses the CPU runner.
	BackendCPU

	// BackendGPU requires the GPU accelerator.
	BackendGPU
)

// String returns the backend mode name.
func (m BackendMode) String() string {
	switch m {
	case BackendAuto:
		return "Auto"
	case BackendCPU:
		return "CPU"
	case BackendGPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// ParseBackendMode parses a backend name as printed by String,
// ignoring case.
func ParseBackendMode(s string) (BackendMode, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return BackendAuto, nil
	case "cpu":
		return BackendCPU, nil
	case "gpu":
		return BackendGPU, nil
	default:
		return 0, fmt.Errorf("%w: backend %q", ErrInvalidOption, s)
	}
}

// selectBackend resolves m against the presence of an accelerator.
func selectBackend(m BackendMode, hasGPU bool) (BackendMode, error) {
	switch m {
	case BackendCPU:
		return BackendCPU, nil
	case BackendGPU:
		if !hasGPU {
			return 0, ErrNoAccelerator
		}
		return BackendGPU, nil
	case BackendAuto:
		if hasGPU {
			return BackendGPU, nil
		}
		return BackendCPU, nil
	default:
		return 0, fmt.Errorf("%w: backend mode %d", ErrInvalidOption, int(m))
	}
}
