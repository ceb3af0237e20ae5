// Package artifacts builds the session's model artifacts from disk.
package artifacts

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Brownie44l1/chainrad/internal/mlp"
	"github.com/Brownie44l1/chainrad/internal/model"
	"github.com/Brownie44l1/chainrad/internal/onnx"
	"github.com/Brownie44l1/chainrad/internal/preprocess"
)

// BackboneSpec locates one feature extractor. Width may be zero for the
// stock backbones.
type BackboneSpec struct {
	Name  string `mapstructure:"name"`
	Path  string `mapstructure:"path"`
	Width int    `mapstructure:"width"`
}

// Config describes where artifacts live and how to run them.
type Config struct {
	ONNX      onnx.Options
	Backbones []BackboneSpec
	Transform *preprocess.Transform
}

// Loader implements model.Loader over ONNX graphs and serialized MLP heads.
type Loader struct {
	cfg Config
	log *zap.Logger
}

// New returns a loader for cfg.
func New(cfg Config, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Transform == nil {
		cfg.Transform = preprocess.New()
	}
	return &Loader{cfg: cfg, log: log.Named("artifacts")}
}

// LoadHead picks the head implementation from the file extension.
func (l *Loader) LoadHead(path string) (model.Head, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".onnx":
		h, err := onnx.NewHead(path, l.cfg.ONNX, l.log)
		if err != nil {
			return nil, err
		}
		return h, nil
	case mlp.Extension:
		h, err := mlp.Load(path)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unsupported classifier format %q", ext)
	}
}

// LoadBackbones opens every configured backbone in order. Already opened
// backbones are closed if a later one fails.
func (l *Loader) LoadBackbones() ([]model.Backbone, error) {
	out := make([]model.Backbone, 0, len(l.cfg.Backbones))
	for _, spec := range l.cfg.Backbones {
		b, err := onnx.NewBackbone(spec.Name, spec.Path, spec.Width, l.cfg.ONNX, l.log)
		if err != nil {
			errs := []error{fmt.Errorf("backbone %s: %w", spec.Name, err)}
			for _, opened := range out {
				errs = append(errs, opened.Close())
			}
			return nil, errors.Join(errs...)
		}
		l.log.Info("backbone loaded",
			zap.String("name", spec.Name),
			zap.String("path", spec.Path),
			zap.Int("width", b.Width()))
		out = append(out, b)
	}
	return out, nil
}

// LoadTransform returns the configured preprocessing transform.
func (l *Loader) LoadTransform() (model.Transform, error) {
	if err := l.cfg.Transform.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preprocessing: %w", err)
	}
	return l.cfg.Transform, nil
}
