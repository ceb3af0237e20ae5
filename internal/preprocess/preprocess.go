// Package preprocess turns radiograph files into normalized CHW tensors.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/Brownie44l1/chainrad/internal/model"
)

// ImageNet statistics the backbones were trained with.
var (
	DefaultMean = [3]float32{0.485, 0.456, 0.406}
	DefaultStd  = [3]float32{0.229, 0.224, 0.225}
)

// DefaultSize is the square edge every image is resized to.
const DefaultSize = 224

// Transform resizes an image to Size x Size, converts it to RGB and
// normalizes each channel as (v - Mean) / Std with v in [0, 1].
type Transform struct {
	Size int
	Mean [3]float32
	Std  [3]float32
}

// New returns the transform the stock backbones expect.
func New() *Transform {
	return &Transform{Size: DefaultSize, Mean: DefaultMean, Std: DefaultStd}
}

// Validate reports an unusable configuration.
func (t *Transform) Validate() error {
	if t.Size <= 0 {
		return fmt.Errorf("invalid size %d", t.Size)
	}
	for i, s := range t.Std {
		if s == 0 {
			return fmt.Errorf("std for channel %d is zero", i)
		}
	}
	return nil
}

// Load decodes the file at path and returns a [3, Size, Size] tensor.
func (t *Transform) Load(path string) (model.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Tensor{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return model.Tensor{}, fmt.Errorf("unsupported image format: %w", err)
		}
		return model.Tensor{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return t.Apply(img), nil
}

// Apply converts an already decoded image.
func (t *Transform) Apply(img image.Image) model.Tensor {
	size := uint(t.Size)
	resized := resize.Resize(size, size, img, resize.Bilinear)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*width + x
			data[i] = (float32(r)/65535.0 - t.Mean[0]) / t.Std[0]
			data[plane+i] = (float32(g)/65535.0 - t.Mean[1]) / t.Std[1]
			data[2*plane+i] = (float32(b)/65535.0 - t.Mean[2]) / t.Std[2]
		}
	}

	return model.Tensor{
		Shape: []int64{3, int64(height), int64(width)},
		Data:  data,
	}
}
