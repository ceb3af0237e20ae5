package featurestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/chainrad/internal/model"
)

func touch(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(paths[i], []byte("x"), 0o644))
	}
	return paths
}

func TestPutGet(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)

	vec := model.FeatureVector{1.5, -2, 0, 3.25}
	require.NoError(t, s.Put("img/00001.png", vec))
	assert.FileExists(t, filepath.Join(s.Dir(), "00001.out"))
	assert.NoFileExists(t, filepath.Join(s.Dir(), "00001.out.tmp"))

	got, err := s.Get("elsewhere/00001.jpg")
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	fresh, err := Open(s.Dir())
	require.NoError(t, err)
	got, err = fresh.Get("00001.png")
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestGetRejectsCorruptFiles(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("a.png"), []byte{1, 2}, 0o644))
	require.NoError(t, os.WriteFile(s.Path("b.png"), []byte{2, 0, 0, 0, 1, 2, 3, 4}, 0o644))

	_, err = s.Get("a.png")
	assert.ErrorContains(t, err, "too small")
	_, err = s.Get("b.png")
	assert.ErrorContains(t, err, "length mismatch")
	_, err = s.Get("c.png")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMissingIsSetDifference(t *testing.T) {
	imgDir := t.TempDir()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	images := touch(t, imgDir, "c.png", "a.png", "b.png", "d.png")
	require.NoError(t, s.Put("a.png", model.FeatureVector{1}))
	require.NoError(t, s.Put("d.png", model.FeatureVector{1}))
	require.NoError(t, s.Put("orphan.png", model.FeatureVector{1}))

	missing, err := s.Missing(images)
	require.NoError(t, err)
	assert.Equal(t, []string{images[0], images[2]}, missing)

	stems, err := s.Stems()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d", "orphan"}, stems)
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.PNG", "a.jpg", "notes.txt", "c.tiff")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	images, err := ListImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.PNG"),
		filepath.Join(dir, "c.tiff"),
	}, images)

	_, err = ListImages(filepath.Join(dir, "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type fakeExtractor struct {
	batches [][]string
	err     error
}

func (f *fakeExtractor) ExtractFeatures(paths []string) ([]model.FeatureVector, error) {
	f.batches = append(f.batches, paths)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.FeatureVector, len(paths))
	for i := range paths {
		out[i] = model.FeatureVector{float32(len(f.batches)), float32(i)}
	}
	return out, nil
}

func TestExportWritesOnlyMissing(t *testing.T) {
	imgDir := t.TempDir()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	images := touch(t, imgDir, "a.png", "b.png", "c.png", "d.png")
	require.NoError(t, s.Put("b.png", model.FeatureVector{9}))

	ext := &fakeExtractor{}
	n, err := Export(ext, s, imgDir, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]string{{images[0], images[2]}, {images[3]}}, ext.batches)

	got, err := s.Get("b.png")
	require.NoError(t, err)
	assert.Equal(t, model.FeatureVector{9}, got, "existing outputs are left alone")

	again := &fakeExtractor{}
	n, err = Export(again, s, imgDir, 2, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, again.batches)
}

func TestExportStopsOnError(t *testing.T) {
	imgDir := t.TempDir()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	touch(t, imgDir, "a.png")

	_, err = Export(&fakeExtractor{err: errors.New("boom")}, s, imgDir, 4, nil)
	require.EqualError(t, err, "boom")
	stems, err := s.Stems()
	require.NoError(t, err)
	assert.Empty(t, stems)
}
