package model

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/chainrad/internal/metrics"
)

// PredictorOptions tunes the orchestrator.
type PredictorOptions struct {
	Calibration Calibration
	// HeadWorkers bounds how many diseases are classified concurrently.
	// Values below 2 classify sequentially.
	HeadWorkers int
	// Accelerated must be set when artifacts relocate to a real accelerator.
	// Only one classifier head may be accelerator-resident at a time, so
	// HeadWorkers is ignored.
	Accelerated bool
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Predictor drives end-to-end inference over a ready session.
type Predictor struct {
	session     *Session
	calibration Calibration
	workers     int
	log         *zap.Logger
	metrics     *metrics.Metrics
}

// NewPredictor returns an orchestrator bound to session.
func NewPredictor(session *Session, opts PredictorOptions) *Predictor {
	workers := max(opts.HeadWorkers, 1)
	if opts.Accelerated {
		workers = 1
	}
	calibration := opts.Calibration
	if calibration == "" {
		calibration = CalibrationLogistic
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Predictor{
		session:     session,
		calibration: calibration,
		workers:     workers,
		log:         log.Named("predict"),
		metrics:     opts.Metrics,
	}
}

// Session returns the session the predictor runs against.
func (p *Predictor) Session() *Session { return p.session }

// Predict classifies every image in paths and returns one Prediction per
// image, in input order, each covering every admitted disease.
func (p *Predictor) Predict(paths []string) (preds []Prediction, err error) {
	start := time.Now()
	defer func() { p.metrics.ObservePredict(err, len(paths), time.Since(start)) }()

	if err := p.acquire(paths); err != nil {
		return nil, err
	}
	defer p.session.Unlock()

	vectors, err := p.extract(paths)
	if err != nil {
		return nil, err
	}
	preds, err = p.classify(vectors)
	if err != nil {
		return nil, err
	}

	p.log.Debug("batch classified",
		zap.Int("images", len(paths)),
		zap.Duration("elapsed", time.Since(start)))
	return preds, nil
}

// ExtractFeatures runs only the backbone stage and returns one FeatureVector
// per image, in input order.
func (p *Predictor) ExtractFeatures(paths []string) ([]FeatureVector, error) {
	if err := p.acquire(paths); err != nil {
		return nil, err
	}
	defer p.session.Unlock()
	return p.extract(paths)
}

// acquire takes the session guard and checks every precondition. On success
// the caller owns the guard.
func (p *Predictor) acquire(paths []string) error {
	if err := p.session.Lock(); err != nil {
		return err
	}
	if !p.session.Ready() {
		p.session.Unlock()
		return &StateError{Op: "predict", Msg: "session is not set up"}
	}
	if err := checkInputs(paths); err != nil {
		p.session.Unlock()
		return err
	}
	return nil
}

// checkInputs reports the first path that is not a readable regular file.
func checkInputs(paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return &MissingInputError{Path: path, Err: err}
		}
		if !info.Mode().IsRegular() {
			return &MissingInputError{Path: path, Err: errors.New("not a regular file")}
		}
		f, err := os.Open(path)
		if err != nil {
			return &MissingInputError{Path: path, Err: err}
		}
		_ = f.Close()
	}
	return nil
}

// extract builds every image's FeatureVector with the backbones resident on
// the accelerator for the whole batch.
func (p *Predictor) extract(paths []string) ([]FeatureVector, error) {
	start := time.Now()
	backbones := p.session.Backbones()
	transform := p.session.Transform()
	vectors := make([]FeatureVector, len(paths))

	err := WithResidency(backbones.relocatables(), func() error {
		for i, path := range paths {
			input, err := transform.Load(path)
			if err != nil {
				return fmt.Errorf("failed to preprocess %s: %w", path, err)
			}
			vec, err := backbones.Extract(input)
			if err != nil {
				return fmt.Errorf("failed to extract features from %s: %w", path, err)
			}
			vectors[i] = vec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveStage("extract", time.Since(start))
	return vectors, nil
}

// classify evaluates every admitted disease over every vector. Each disease
// fills its own column, so cross-disease order does not affect the result.
func (p *Predictor) classify(vectors []FeatureVector) ([]Prediction, error) {
	start := time.Now()
	ids := p.session.DiseaseIDs()
	heads := p.session.Heads()
	thresholds := p.session.Thresholds()

	columns := make([][]int, len(ids))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for k, id := range ids {
		k, id := k, id
		g.Go(func() error {
			col, err := p.classifyDisease(id, heads[id], thresholds, vectors)
			if err != nil {
				return fmt.Errorf("disease %s: %w", id, err)
			}
			columns[k] = col
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	preds := make([]Prediction, len(vectors))
	for i := range preds {
		preds[i] = make(Prediction, len(ids))
		for k, id := range ids {
			preds[i][id] = columns[k][i]
		}
	}
	p.metrics.ObserveStage("classify", time.Since(start))
	return preds, nil
}

func (p *Predictor) classifyDisease(id string, head Head, thresholds Thresholds, vectors []FeatureVector) ([]int, error) {
	col := make([]int, len(vectors))
	err := WithResidency([]Relocatable{head}, func() error {
		for i, vec := range vectors {
			scores, err := head.Score([]FeatureVector{vec})
			if err != nil {
				return err
			}
			if len(scores) != 1 {
				return fmt.Errorf("classifier returned %d scores for one vector", len(scores))
			}
			col[i] = thresholds.Decide(p.calibration.Apply(scores[0]), id)
			p.metrics.ObserveDecision(id, col[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return col, nil
}
