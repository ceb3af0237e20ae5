package model

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// residencyTracker counts artifacts currently on the accelerator.
type residencyTracker struct {
	mu        sync.Mutex
	heads     int
	backbones int
	maxHeads  int
	overlap   bool
}

func (r *residencyTracker) move(isHead bool, to Residency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delta := 1
	if to == Host {
		delta = -1
	}
	if isHead {
		r.heads += delta
		r.maxHeads = max(r.maxHeads, r.heads)
	} else {
		r.backbones += delta
	}
	if r.heads > 0 && r.backbones > 0 {
		r.overlap = true
	}
}

type fakeBackbone struct {
	name      string
	width     int
	scale     float32
	tracker   *residencyTracker
	residency Residency
	calls     int
	gate      chan struct{}
	entered   chan struct{}
	failMove  bool
	closed    bool
}

func (b *fakeBackbone) Name() string { return b.name }

func (b *fakeBackbone) Width() int { return b.width }

func (b *fakeBackbone) Relocate(to Residency) error {
	if b.failMove && to == Accelerator {
		return errors.New("device unavailable")
	}
	if b.residency != to && b.tracker != nil {
		b.tracker.move(false, to)
	}
	b.residency = to
	return nil
}

func (b *fakeBackbone) Extract(input Tensor) ([]float32, error) {
	b.calls++
	if b.entered != nil {
		close(b.entered)
		b.entered = nil
	}
	if b.gate != nil {
		<-b.gate
	}
	out := make([]float32, b.width)
	for i := range out {
		out[i] = input.Data[0] * b.scale
	}
	return out, nil
}

func (b *fakeBackbone) Close() error {
	b.closed = true
	return nil
}

// fakeHead scores a vector as the sum of its elements plus bias.
type fakeHead struct {
	width     int
	bias      float32
	tracker   *residencyTracker
	residency Residency
	mu        sync.Mutex
	calls     int
	fail      bool
	closed    bool
}

func (h *fakeHead) InputWidth() int { return h.width }

func (h *fakeHead) Relocate(to Residency) error {
	if h.residency != to && h.tracker != nil {
		h.tracker.move(true, to)
	}
	h.residency = to
	return nil
}

func (h *fakeHead) Score(batch []FeatureVector) ([]float32, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.fail {
		return nil, errors.New("classifier exploded")
	}
	out := make([]float32, len(batch))
	for i, vec := range batch {
		sum := h.bias
		for _, v := range vec {
			sum += v
		}
		out[i] = sum
	}
	return out, nil
}

func (h *fakeHead) Close() error {
	h.closed = true
	return nil
}

// byteCountTransform turns an image file into a one-element tensor holding
// the file size.
type byteCountTransform struct{}

func (byteCountTransform) Load(path string) (Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tensor{}, err
	}
	return Tensor{Shape: []int64{1}, Data: []float32{float32(len(data))}}, nil
}

type fakeLoader struct {
	backbones   []Backbone
	heads       map[string]Head
	loadedHeads []string
	backboneErr error
	headErr     error
}

func (l *fakeLoader) LoadHead(path string) (Head, error) {
	if l.headErr != nil {
		return nil, l.headErr
	}
	id := trimExt(filepath.Base(path))
	l.loadedHeads = append(l.loadedHeads, id)
	if h, ok := l.heads[id]; ok {
		return h, nil
	}
	return &fakeHead{}, nil
}

func (l *fakeLoader) LoadBackbones() ([]Backbone, error) {
	if l.backboneErr != nil {
		return nil, l.backboneErr
	}
	return l.backbones, nil
}

func (l *fakeLoader) LoadTransform() (Transform, error) {
	return byteCountTransform{}, nil
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// workspace lays out a metadata file and model artifacts in a temp dir.
type workspace struct {
	dir      string
	metadata string
	models   string
}

func newWorkspace(t *testing.T, metadata string, artifacts ...string) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		dir:      dir,
		metadata: filepath.Join(dir, "metadata", "chainrad_diseases.json"),
		models:   filepath.Join(dir, "models"),
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(ws.metadata), 0o755))
	require.NoError(t, os.MkdirAll(ws.models, 0o755))
	if metadata != "" {
		require.NoError(t, os.WriteFile(ws.metadata, []byte(metadata), 0o644))
	}
	for _, a := range artifacts {
		require.NoError(t, os.WriteFile(filepath.Join(ws.models, a), []byte("weights"), 0o644))
	}
	return ws
}

func (ws workspace) config() SessionConfig {
	return SessionConfig{MetadataPath: ws.metadata, ModelDir: ws.models}
}

// image writes a file of n bytes and returns its path.
func (ws workspace) image(t *testing.T, name string, n int) string {
	t.Helper()
	p := filepath.Join(ws.dir, name)
	require.NoError(t, os.WriteFile(p, make([]byte, n), 0o644))
	return p
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
