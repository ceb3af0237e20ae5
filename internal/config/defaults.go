package config

import (
	"github.com/spf13/viper"

	"github.com/Brownie44l1/chainrad/internal/preprocess"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("metadata_path", "./metadata/chainrad_diseases.json")
	v.SetDefault("model_dir", "./models")
	v.SetDefault("head_extensions", []string{".onnx", ".mlp"})
	v.SetDefault("calibration", "logistic")
	v.SetDefault("head_workers", 1)

	v.SetDefault("onnx.library_path", "")
	v.SetDefault("onnx.accelerator", "cpu")
	v.SetDefault("onnx.device_id", 0)
	v.SetDefault("onnx.intra_op_threads", 0)
	v.SetDefault("onnx.input_name", "input")
	v.SetDefault("onnx.output_name", "output")

	v.SetDefault("backbones", []map[string]any{
		{"name": "vgg16_bn", "width": 25088},
		{"name": "resnet152", "width": 2048},
		{"name": "densenet161", "width": 2208},
		{"name": "googlenet", "width": 1024},
	})

	v.SetDefault("preprocess.size", preprocess.DefaultSize)
	v.SetDefault("preprocess.mean", preprocess.DefaultMean[:])
	v.SetDefault("preprocess.std", preprocess.DefaultStd[:])

	v.SetDefault("features.image_dir", "./img")
	v.SetDefault("features.dir", "./out")
	v.SetDefault("features.batch_size", 16)

	v.SetDefault("server.port", 8080)

	v.SetDefault("log.dev", false)
	v.SetDefault("log.level", "info")
}
