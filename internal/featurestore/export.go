package featurestore

import (
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Brownie44l1/chainrad/internal/model"
)

// Extractor runs the backbone stage over a batch of images.
type Extractor interface {
	ExtractFeatures(paths []string) ([]model.FeatureVector, error)
}

// Export stores outputs for every image under imageDir that does not have
// one yet, batchSize images at a time. It returns how many were written.
func Export(ext Extractor, s *Store, imageDir string, batchSize int, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	images, err := ListImages(imageDir)
	if err != nil {
		return 0, err
	}
	missing, err := s.Missing(images)
	if err != nil {
		return 0, err
	}
	log.Info("exporting backbone outputs",
		zap.Int("images", len(images)),
		zap.Int("missing", len(missing)),
		zap.String("dir", s.Dir()))

	written := 0
	for _, batch := range lo.Chunk(missing, max(batchSize, 1)) {
		vecs, err := ext.ExtractFeatures(batch)
		if err != nil {
			return written, err
		}
		for i, image := range batch {
			if err := s.Put(image, vecs[i]); err != nil {
				return written, fmt.Errorf("store output for %s: %w", image, err)
			}
			written++
		}
		log.Debug("batch exported", zap.Int("written", written), zap.Int("total", len(missing)))
	}
	return written, nil
}
