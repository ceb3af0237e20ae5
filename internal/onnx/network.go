package onnx

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/chainrad/internal/model"
)

// Network is one ONNX graph with a host session that lives as long as the
// network, and a device session that exists only while the network is
// relocated to the accelerator.
type Network struct {
	path string
	data []byte
	opts Options
	log  *zap.Logger

	mu        sync.Mutex
	host      *ort.DynamicAdvancedSession
	device    *ort.DynamicAdvancedSession
	residency model.Residency
	closed    bool
}

// Open reads the graph at path and creates its host session.
func Open(path string, opts Options, log *zap.Logger) (*Network, error) {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	if err := acquireEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}
	host, err := newSession(data, opts, false)
	if err != nil {
		_ = releaseEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", path, err)
	}
	log.Debug("network loaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return &Network{path: path, data: data, opts: opts, log: log, host: host}, nil
}

func newSession(data []byte, opts Options, accelerated bool) (*ort.DynamicAdvancedSession, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer so.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}
	if accelerated {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(opts.DeviceID)}); err != nil {
			return nil, fmt.Errorf("failed to configure CUDA device %d: %w", opts.DeviceID, err)
		}
		if err := so.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, fmt.Errorf("failed to enable CUDA: %w", err)
		}
	}

	return ort.NewDynamicAdvancedSessionWithONNXData(data,
		[]string{opts.InputName}, []string{opts.OutputName}, so)
}

// Path returns the file the network was loaded from.
func (n *Network) Path() string { return n.path }

// Relocate moves the network between host memory and the accelerator. On
// CPU-only configurations it only records the requested residency.
func (n *Network) Relocate(to model.Residency) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errors.New("network is closed")
	}
	if n.residency == to {
		return nil
	}
	if n.opts.Accelerated() {
		switch to {
		case model.Accelerator:
			device, err := newSession(n.data, n.opts, true)
			if err != nil {
				return fmt.Errorf("failed to move %s to %s: %w", n.path, to, err)
			}
			n.device = device
		case model.Host:
			if err := n.dropDevice(); err != nil {
				return fmt.Errorf("failed to move %s to %s: %w", n.path, to, err)
			}
		}
	}
	n.residency = to
	return nil
}

func (n *Network) dropDevice() error {
	if n.device == nil {
		return nil
	}
	err := n.device.Destroy()
	n.device = nil
	return err
}

// Run feeds one input tensor through the graph and returns a copy of its
// output.
func (n *Network) Run(shape []int64, data []float32) ([]float32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, errors.New("network is closed")
	}
	session := n.host
	if n.device != nil {
		session = n.device
	}

	input, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %q is %T, want float32 tensor", n.opts.OutputName, outputs[0])
	}
	return slices.Clone(out.GetData()), nil
}

// Close destroys every session and releases the runtime.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	errs := []error{n.dropDevice()}
	if n.host != nil {
		errs = append(errs, n.host.Destroy())
		n.host = nil
	}
	errs = append(errs, releaseEnvironment())
	return errors.Join(errs...)
}
