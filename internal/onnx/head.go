package onnx

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/chainrad/internal/model"
)

// Head is a per-disease classifier exported to ONNX. It maps [n, width]
// features to n raw scores.
type Head struct {
	*Network
	width int
}

// NewHead opens the classifier at path and reads its input width from the
// graph. Dynamic widths are reported as zero.
func NewHead(path string, opts Options, log *zap.Logger) (*Head, error) {
	n, err := Open(path, opts, log)
	if err != nil {
		return nil, err
	}
	width, err := inputWidth(n.data, n.opts.InputName)
	if err != nil {
		_ = n.Close()
		return nil, fmt.Errorf("classifier %s: %w", path, err)
	}
	return &Head{Network: n, width: width}, nil
}

func inputWidth(data []byte, name string) (int, error) {
	inputs, _, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect graph: %w", err)
	}
	for _, in := range inputs {
		if in.Name != name {
			continue
		}
		if len(in.Dimensions) == 0 {
			return 0, nil
		}
		return int(max(in.Dimensions[len(in.Dimensions)-1], 0)), nil
	}
	return 0, fmt.Errorf("graph has no input named %q", name)
}

func (h *Head) InputWidth() int { return h.width }

// Score runs the whole batch in one call.
func (h *Head) Score(batch []model.FeatureVector) ([]float32, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	width := len(batch[0])
	data := make([]float32, 0, len(batch)*width)
	for i, vec := range batch {
		if len(vec) != width {
			return nil, fmt.Errorf("vector %d has %d features, want %d", i, len(vec), width)
		}
		data = append(data, vec...)
	}
	out, err := h.Run([]int64{int64(len(batch)), int64(width)}, data)
	if err != nil {
		return nil, err
	}
	if len(out) != len(batch) {
		return nil, fmt.Errorf("classifier returned %d scores for %d vectors", len(out), len(batch))
	}
	return out, nil
}
