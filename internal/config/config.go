// Package config loads chainrad settings from defaults, an optional YAML
// file, CHAINRAD_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Brownie44l1/chainrad/internal/artifacts"
	"github.com/Brownie44l1/chainrad/internal/model"
	"github.com/Brownie44l1/chainrad/internal/onnx"
	"github.com/Brownie44l1/chainrad/internal/preprocess"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "CHAINRAD"

// Settings is the full runtime configuration.
type Settings struct {
	MetadataPath   string                   `mapstructure:"metadata_path"`
	ModelDir       string                   `mapstructure:"model_dir"`
	HeadExtensions []string                 `mapstructure:"head_extensions"`
	Calibration    string                   `mapstructure:"calibration"`
	HeadWorkers    int                      `mapstructure:"head_workers"`
	ONNX           ONNXSettings             `mapstructure:"onnx"`
	Backbones      []artifacts.BackboneSpec `mapstructure:"backbones"`
	Preprocess     PreprocessSettings       `mapstructure:"preprocess"`
	Features       FeatureSettings          `mapstructure:"features"`
	Server         ServerSettings           `mapstructure:"server"`
	Log            LogSettings              `mapstructure:"log"`
}

type ONNXSettings struct {
	LibraryPath    string `mapstructure:"library_path"`
	Accelerator    string `mapstructure:"accelerator"`
	DeviceID       int    `mapstructure:"device_id"`
	IntraOpThreads int    `mapstructure:"intra_op_threads"`
	InputName      string `mapstructure:"input_name"`
	OutputName     string `mapstructure:"output_name"`
}

type PreprocessSettings struct {
	Size int       `mapstructure:"size"`
	Mean []float32 `mapstructure:"mean"`
	Std  []float32 `mapstructure:"std"`
}

type FeatureSettings struct {
	ImageDir  string `mapstructure:"image_dir"`
	Dir       string `mapstructure:"dir"`
	BatchSize int    `mapstructure:"batch_size"`
}

type ServerSettings struct {
	Port int `mapstructure:"port"`
}

type LogSettings struct {
	Dev   bool   `mapstructure:"dev"`
	Level string `mapstructure:"level"`
}

// flagKeys maps command-line flag names to settings keys.
var flagKeys = map[string]string{
	"metadata":    "metadata_path",
	"models":      "model_dir",
	"calibration": "calibration",
	"workers":     "head_workers",
	"accelerator": "onnx.accelerator",
	"device":      "onnx.device_id",
	"onnxruntime": "onnx.library_path",
	"images":      "features.image_dir",
	"out":         "features.dir",
	"port":        "server.port",
	"dev":         "log.dev",
	"log-level":   "log.level",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file")
	fs.String("metadata", "", "Disease metadata file")
	fs.String("models", "", "Directory holding per-disease classifiers")
	fs.String("calibration", "", "Score calibration: logistic or raw")
	fs.Int("workers", 0, "Diseases classified concurrently on CPU")
	fs.String("accelerator", "", "Execution provider: cpu or cuda")
	fs.Int("device", 0, "Accelerator device id")
	fs.String("onnxruntime", "", "Path to the onnxruntime shared library")
	fs.String("images", "", "Image directory for extract")
	fs.String("out", "", "Output directory for extract")
	fs.Int("port", 0, "HTTP port")
	fs.Bool("dev", false, "Human-readable development logging")
	fs.String("log-level", "", "Log level")
}

// Load resolves the settings. flags may be nil; only flags that were set on
// the command line override other sources.
func Load(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	if err := readConfigFile(v, flags); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	settings.resolvePaths()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

func readConfigFile(v *viper.Viper, flags *pflag.FlagSet) error {
	path := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("chainrad")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// resolvePaths fills in backbone paths left empty as
// <model_dir>/backbones/<name>.onnx.
func (s *Settings) resolvePaths() {
	for i, b := range s.Backbones {
		if b.Path == "" {
			s.Backbones[i].Path = filepath.Join(s.ModelDir, "backbones", b.Name+".onnx")
		}
	}
}

// Validate reports the first unusable value.
func (s *Settings) Validate() error {
	if _, err := model.ParseCalibration(s.Calibration); err != nil {
		return err
	}
	if _, err := onnx.ParseAccelerator(s.ONNX.Accelerator); err != nil {
		return err
	}
	if s.HeadWorkers < 0 {
		return fmt.Errorf("head_workers must not be negative, got %d", s.HeadWorkers)
	}
	if len(s.Backbones) == 0 {
		return errors.New("no backbones configured")
	}
	for _, b := range s.Backbones {
		if b.Name == "" {
			return errors.New("backbone without a name")
		}
	}
	if len(s.Preprocess.Mean) != 3 || len(s.Preprocess.Std) != 3 {
		return fmt.Errorf("preprocess mean and std need 3 channels, got %d and %d",
			len(s.Preprocess.Mean), len(s.Preprocess.Std))
	}
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", s.Server.Port)
	}
	return nil
}

// SessionConfig returns the session's resource locations.
func (s *Settings) SessionConfig() model.SessionConfig {
	return model.SessionConfig{
		MetadataPath:   s.MetadataPath,
		ModelDir:       s.ModelDir,
		HeadExtensions: s.HeadExtensions,
	}
}

// ONNXOptions returns the runtime options. Settings must be valid.
func (s *Settings) ONNXOptions() onnx.Options {
	accel, _ := onnx.ParseAccelerator(s.ONNX.Accelerator)
	return onnx.Options{
		LibraryPath:    s.ONNX.LibraryPath,
		Accelerator:    accel,
		DeviceID:       s.ONNX.DeviceID,
		IntraOpThreads: s.ONNX.IntraOpThreads,
		InputName:      s.ONNX.InputName,
		OutputName:     s.ONNX.OutputName,
	}
}

// ArtifactsConfig returns everything the artifact loader needs.
func (s *Settings) ArtifactsConfig() artifacts.Config {
	return artifacts.Config{
		ONNX:      s.ONNXOptions(),
		Backbones: s.Backbones,
		Transform: &preprocess.Transform{
			Size: s.Preprocess.Size,
			Mean: [3]float32(s.Preprocess.Mean),
			Std:  [3]float32(s.Preprocess.Std),
		},
	}
}

// PredictorOptions returns the orchestrator tuning. Settings must be valid.
func (s *Settings) PredictorOptions() model.PredictorOptions {
	calibration, _ := model.ParseCalibration(s.Calibration)
	return model.PredictorOptions{
		Calibration: calibration,
		HeadWorkers: s.HeadWorkers,
		Accelerated: s.ONNXOptions().Accelerated(),
	}
}
