package model

import (
	"fmt"
	"io"
)

// Backbone is a pretrained, headless feature extractor. Its parameters are
// frozen and it always runs in evaluation mode.
type Backbone interface {
	Relocatable
	io.Closer
	Name() string
	// Width is the length of the flattened output of Extract.
	Width() int
	Extract(input Tensor) ([]float32, error)
}

// Head is a per-disease binary classifier over a FeatureVector.
type Head interface {
	Relocatable
	io.Closer
	// InputWidth is the expected FeatureVector length, or 0 when the artifact
	// does not declare one.
	InputWidth() int
	// Score returns one raw, uncalibrated output per vector, in order.
	Score(batch []FeatureVector) ([]float32, error)
}

// Transform decodes an image file into the tensor the backbones consume.
type Transform interface {
	Load(path string) (Tensor, error)
}

// Loader materialises model artifacts for a session. It is called only
// during Setup.
type Loader interface {
	LoadHead(path string) (Head, error)
	LoadBackbones() ([]Backbone, error)
	LoadTransform() (Transform, error)
}

// ExtractorSet applies every backbone to one image, in registration order.
type ExtractorSet []Backbone

// Width is the length of the FeatureVector the set produces.
func (s ExtractorSet) Width() int {
	w := 0
	for _, b := range s {
		w += b.Width()
	}
	return w
}

// Extract builds the FeatureVector for one preprocessed image.
func (s ExtractorSet) Extract(input Tensor) (FeatureVector, error) {
	out := make(FeatureVector, 0, s.Width())
	for _, b := range s {
		flat, err := b.Extract(input)
		if err != nil {
			return nil, fmt.Errorf("backbone %s: %w", b.Name(), err)
		}
		if len(flat) != b.Width() {
			return nil, fmt.Errorf("backbone %s: produced %d values, want %d", b.Name(), len(flat), b.Width())
		}
		out = append(out, flat...)
	}
	return out, nil
}

func (s ExtractorSet) relocatables() []Relocatable {
	out := make([]Relocatable, len(s))
	for i, b := range s {
		out[i] = b
	}
	return out
}
