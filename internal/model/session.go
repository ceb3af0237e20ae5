package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/Brownie44l1/chainrad/internal/metrics"
)

// DefaultHeadExtensions are the artifact file extensions tried, in order,
// when looking for a disease's classifier head.
var DefaultHeadExtensions = []string{".onnx", ".mlp"}

// SessionConfig locates the resources Setup reads.
type SessionConfig struct {
	MetadataPath   string
	ModelDir       string
	HeadExtensions []string
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *zap.Logger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics attaches Prometheus metrics to the session.
func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// Session owns every loaded artifact and the guard that serialises setup and
// inference. It is either uninitialized or ready; once ready, its diseases
// and artifacts are never replaced.
type Session struct {
	cfg     SessionConfig
	loader  Loader
	log     *zap.Logger
	metrics *metrics.Metrics

	locked *atomic.Bool
	ready  *atomic.Bool
	closed *atomic.Bool

	// Written only by Setup while the guard is held, read-only afterwards.
	mu         sync.RWMutex
	diseases   map[string]string
	heads      map[string]Head
	thresholds Thresholds
	backbones  ExtractorSet
	transform  Transform
	admissions []Admission
}

// NewSession returns an uninitialized session.
func NewSession(cfg SessionConfig, loader Loader, opts ...SessionOption) *Session {
	if len(cfg.HeadExtensions) == 0 {
		cfg.HeadExtensions = DefaultHeadExtensions
	}
	s := &Session{
		cfg:    cfg,
		loader: loader,
		log:    zap.NewNop(),
		locked: atomic.NewBool(false),
		ready:  atomic.NewBool(false),
		closed: atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("session")
	return s
}

// Lock acquires the guard without blocking.
func (s *Session) Lock() error {
	if !s.locked.CompareAndSwap(false, true) {
		s.metrics.ObserveLockConflict()
		return &StateError{Op: "lock", Msg: "cannot lock an already-locked session"}
	}
	return nil
}

// Unlock clears the guard unconditionally.
func (s *Session) Unlock() {
	s.locked.Store(false)
}

// Locked reports whether the guard is held.
func (s *Session) Locked() bool { return s.locked.Load() }

// Ready reports whether Setup completed successfully.
func (s *Session) Ready() bool { return s.ready.Load() }

// Setup loads the disease metadata, admits every disease that has both its
// metadata and a classifier artifact, then loads the backbones and the
// preprocessing transform. It may succeed only once per session.
func (s *Session) Setup() (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSetup(err, time.Since(start)) }()

	if err := s.Lock(); err != nil {
		return err
	}
	defer s.Unlock()

	if s.ready.Load() {
		return &StateError{Op: "setup", Msg: "session is already set up"}
	}
	if s.closed.Load() {
		return &StateError{Op: "setup", Msg: "session is closed"}
	}

	entries, err := readMetadata(s.cfg.MetadataPath)
	if err != nil {
		return err
	}

	admissions := admit(entries, s.cfg.ModelDir, s.cfg.HeadExtensions)

	diseases := make(map[string]string)
	thresholds := make(Thresholds)
	heads := make(map[string]Head)
	release := func() {
		for _, h := range heads {
			_ = h.Close()
		}
	}

	for _, a := range admissions {
		switch v := a.(type) {
		case Skipped:
			s.log.Info("disease skipped",
				zap.String("disease", v.ID),
				zap.String("reason", string(v.Reason)))
			s.metrics.ObserveSkipped(string(v.Reason))
		case Admitted:
			head, err := s.loader.LoadHead(v.ArtifactPath)
			if err != nil {
				release()
				return fmt.Errorf("failed to load classifier for %s: %w", v.Definition.ID, err)
			}
			heads[v.Definition.ID] = head
			diseases[v.Definition.ID] = v.Definition.Name
			thresholds[v.Definition.ID] = v.Definition.Threshold
			s.log.Debug("disease admitted",
				zap.String("disease", v.Definition.ID),
				zap.String("artifact", v.ArtifactPath),
				zap.Float64("threshold", v.Definition.Threshold))
		}
	}

	if len(diseases) == 0 {
		return fmt.Errorf("%w: none of %d configured diseases passed admission", ErrNoDiseasesAdmitted, len(entries))
	}

	backbones, err := s.loader.LoadBackbones()
	if err != nil {
		release()
		return fmt.Errorf("failed to load backbones: %w", err)
	}
	extractors := ExtractorSet(backbones)
	if len(extractors) == 0 {
		release()
		return &ConfigurationError{Resource: "backbones", Err: errors.New("no backbone configured")}
	}

	width := extractors.Width()
	for id, h := range heads {
		if w := h.InputWidth(); w > 0 && w != width {
			release()
			_ = closeAll(extractors)
			return &ConfigurationError{
				Resource: id,
				Err:      fmt.Errorf("classifier expects %d features, backbones produce %d", w, width),
			}
		}
	}

	transform, err := s.loader.LoadTransform()
	if err != nil {
		release()
		_ = closeAll(extractors)
		return fmt.Errorf("failed to load transform: %w", err)
	}

	s.mu.Lock()
	s.diseases = diseases
	s.thresholds = thresholds
	s.heads = heads
	s.backbones = extractors
	s.transform = transform
	s.admissions = admissions
	s.mu.Unlock()
	s.ready.Store(true)

	s.metrics.SetAdmitted(len(diseases))
	s.log.Info("session ready",
		zap.Int("admitted", len(diseases)),
		zap.Int("skipped", len(admissions)-len(diseases)),
		zap.Int("backbones", len(extractors)),
		zap.Int("feature_width", width),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// DiseaseIDs returns the admitted disease identifiers in sorted order.
func (s *Session) DiseaseIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := lo.Keys(s.diseases)
	slices.Sort(ids)
	return ids
}

// Names returns the display name of every admitted disease.
func (s *Session) Names() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.diseases)
}

// Diseases returns the admitted definitions in identifier order.
func (s *Session) Diseases() []DiseaseDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := lo.Keys(s.diseases)
	slices.Sort(ids)
	return lo.Map(ids, func(id string, _ int) DiseaseDefinition {
		return DiseaseDefinition{ID: id, Name: s.diseases[id], Threshold: s.thresholds[id]}
	})
}

// Heads returns the loaded classifier heads keyed by disease identifier.
func (s *Session) Heads() map[string]Head {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.heads)
}

// Backbones returns the loaded feature extractors in registration order.
func (s *Session) Backbones() ExtractorSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.backbones)
}

// Transform returns the shared preprocessing transform.
func (s *Session) Transform() Transform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transform
}

// Thresholds returns the calibrated cutoff of every admitted disease.
func (s *Session) Thresholds() Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.thresholds)
}

// Admissions returns the verdict for every configured disease, admitted or
// skipped, in identifier order.
func (s *Session) Admissions() []Admission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.admissions)
}

// Close releases every loaded artifact. The session must not be used after.
func (s *Session) Close() error {
	if err := s.Lock(); err != nil {
		return err
	}
	defer s.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id, h := range s.heads {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close classifier %s: %w", id, err))
		}
	}
	if err := closeAll(s.backbones); err != nil {
		errs = append(errs, err)
	}
	s.heads = nil
	s.backbones = nil
	s.ready.Store(false)
	s.closed.Store(true)
	return errors.Join(errs...)
}

func closeAll(set ExtractorSet) error {
	var errs []error
	for _, b := range set {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backbone %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
