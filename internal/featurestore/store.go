// Package featurestore caches headless backbone outputs on disk, one
// "<stem>.out" file per image.
package featurestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"github.com/Brownie44l1/chainrad/internal/model"
)

// Extension is appended to an image stem to name its cached output.
const Extension = ".out"

// ImageExtensions are the file types ListImages picks up.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}

// Store reads and writes cached FeatureVectors under one directory. Recently
// used vectors are also kept in memory.
type Store struct {
	dir string
	mem *cache.Cache
}

// Open creates dir if needed and returns a store rooted at it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Store{dir: dir, mem: cache.New(10*time.Minute, 20*time.Minute)}, nil
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string { return s.dir }

func stem(image string) string {
	base := filepath.Base(image)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Path returns where the output for image is stored.
func (s *Store) Path(image string) string {
	return filepath.Join(s.dir, stem(image)+Extension)
}

// Put stores vec as the output for image.
func (s *Store) Put(image string, vec model.FeatureVector) error {
	path := s.Path(image)
	buf := make([]byte, 4+len(vec)*4)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(vec)))
	off := 4
	for _, v := range vec {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
		off += 4
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	s.mem.SetDefault(stem(image), slices.Clone(vec))
	return nil
}

// Get returns the stored output for image.
func (s *Store) Get(image string) (model.FeatureVector, error) {
	key := stem(image)
	if v, ok := s.mem.Get(key); ok {
		return slices.Clone(v.(model.FeatureVector)), nil
	}
	path := s.Path(image)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("output file too small: %s", path)
	}
	length := int(binary.LittleEndian.Uint32(data[:4]))
	data = data[4:]
	if len(data) != length*4 {
		return nil, fmt.Errorf("output length mismatch: %s", path)
	}
	vec := make(model.FeatureVector, length)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : (i+1)*4]))
	}
	s.mem.SetDefault(key, slices.Clone(vec))
	return vec, nil
}

// Stems lists the image stems that already have an output.
func (s *Store) Stems() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	stems := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if e.IsDir() || filepath.Ext(e.Name()) != Extension {
			return "", false
		}
		return strings.TrimSuffix(e.Name(), Extension), true
	})
	slices.Sort(stems)
	return stems, nil
}

// Missing returns the images, in input order, that have no stored output.
func (s *Store) Missing(images []string) ([]string, error) {
	stems, err := s.Stems()
	if err != nil {
		return nil, err
	}
	done := lo.SliceToMap(stems, func(st string) (string, struct{}) { return st, struct{}{} })
	return lo.Filter(images, func(image string, _ int) bool {
		_, ok := done[stem(image)]
		return !ok
	}), nil
}

// ListImages returns the image files directly under dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("image dir %s: %w", dir, err)
		}
		return nil, err
	}
	images := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || !slices.Contains(ImageExtensions, ext) {
			return "", false
		}
		return filepath.Join(dir, e.Name()), true
	})
	slices.Sort(images)
	return images, nil
}
