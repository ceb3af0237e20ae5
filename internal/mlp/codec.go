package mlp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Extension is the file extension of serialized heads.
const Extension = ".mlp"

var magic = [4]byte{'C', 'R', 'M', 'P'}

const formatVersion = 1

// ErrFormat reports a file that is not a serialized head.
var ErrFormat = errors.New("not a classifier file")

// Encode writes n in little-endian binary form: magic, version, layer count,
// then per layer its input and output widths followed by weights and biases.
func Encode(w io.Writer, n *Network) error {
	bw := bufio.NewWriter(w)
	header := []uint32{formatVersion, uint32(len(n.layers))}
	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return err
	}
	for _, l := range n.layers {
		if err := binary.Write(bw, binary.LittleEndian, []uint32{uint32(l.In), uint32(l.Out)}); err != nil {
			return err
		}
		if err := writeFloats(bw, l.Weights); err != nil {
			return err
		}
		if err := writeFloats(bw, l.Biases); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeFloats(w io.Writer, vals []float32) error {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// Decode reads a network written by Encode.
func Decode(r io.Reader) (*Network, error) {
	br := bufio.NewReader(r)
	var got [4]byte
	if _, err := io.ReadFull(br, got[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if got != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, got[:])
	}
	var header [2]uint32
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if header[0] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, header[0])
	}

	layers := make([]Dense, header[1])
	for i := range layers {
		var dims [2]uint32
		if err := binary.Read(br, binary.LittleEndian, &dims); err != nil {
			return nil, fmt.Errorf("%w: layer %d: %v", ErrFormat, i, err)
		}
		in, out := int(dims[0]), int(dims[1])
		weights, err := readFloats(br, in*out)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %d weights: %v", ErrFormat, i, err)
		}
		biases, err := readFloats(br, out)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %d biases: %v", ErrFormat, i, err)
		}
		layers[i] = Dense{In: in, Out: out, Weights: weights, Biases: biases}
	}
	return New(layers...)
}

func readFloats(r io.Reader, n int) ([]float32, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vals, nil
}

// Load reads a serialized head from path.
func Load(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	n, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// Save writes n to path through a temporary file.
func Save(path string, n *Network) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := Encode(f, n); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
