// Package onnx runs backbones and classifier heads through ONNX Runtime.
package onnx

import (
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Accelerator names the execution provider used when a network is moved to
// the accelerator.
type Accelerator string

const (
	CPU  Accelerator = "cpu"
	CUDA Accelerator = "cuda"
)

// ParseAccelerator maps a configuration value to an Accelerator. An empty
// name selects CPU.
func ParseAccelerator(name string) (Accelerator, error) {
	switch a := Accelerator(strings.ToLower(strings.TrimSpace(name))); a {
	case "", CPU:
		return CPU, nil
	case CUDA:
		return CUDA, nil
	default:
		return "", fmt.Errorf("unknown accelerator %q", name)
	}
}

// Options configures the runtime and every session created from it.
type Options struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default search path.
	LibraryPath    string
	Accelerator    Accelerator
	DeviceID       int
	IntraOpThreads int
	InputName      string
	OutputName     string
}

func (o Options) withDefaults() Options {
	if o.Accelerator == "" {
		o.Accelerator = CPU
	}
	if o.InputName == "" {
		o.InputName = "input"
	}
	if o.OutputName == "" {
		o.OutputName = "output"
	}
	return o
}

// Accelerated reports whether relocation reaches a real device.
func (o Options) Accelerated() bool {
	return o.Accelerator == CUDA
}

var (
	envMu   sync.Mutex
	envRefs int
)

// acquireEnvironment initializes the process-wide runtime on first use.
// Every successful call must be paired with releaseEnvironment.
func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}
