package onnx

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Brownie44l1/chainrad/internal/model"
)

// KnownWidths lists the flattened feature widths of the stock backbones.
var KnownWidths = map[string]int{
	"vgg16_bn":    25088,
	"resnet152":   2048,
	"densenet161": 2208,
	"googlenet":   1024,
}

// Backbone is a feature extractor exported to ONNX with its classifier
// removed.
type Backbone struct {
	*Network
	name  string
	width int
}

// NewBackbone opens the graph at path. A zero width falls back to
// KnownWidths.
func NewBackbone(name, path string, width int, opts Options, log *zap.Logger) (*Backbone, error) {
	if width <= 0 {
		width = KnownWidths[name]
	}
	if width <= 0 {
		return nil, fmt.Errorf("backbone %s: output width is not configured", name)
	}
	if log != nil {
		log = log.With(zap.String("backbone", name))
	}
	n, err := Open(path, opts, log)
	if err != nil {
		return nil, err
	}
	return &Backbone{Network: n, name: name, width: width}, nil
}

func (b *Backbone) Name() string { return b.name }

func (b *Backbone) Width() int { return b.width }

// Extract runs a batch of one and returns the flattened features.
func (b *Backbone) Extract(input model.Tensor) ([]float32, error) {
	shape := append([]int64{1}, input.Shape...)
	return b.Run(shape, input.Data)
}
