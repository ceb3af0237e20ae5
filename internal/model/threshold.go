package model

import (
	"fmt"
	"math"

	"github.com/samber/mo"
)

// DefaultThreshold applies to any disease without a calibrated cutoff.
const DefaultThreshold = 0.5

// Thresholds holds the calibrated cutoff of every admitted disease.
type Thresholds map[string]float64

// Lookup returns the calibrated cutoff for id, if any.
func (t Thresholds) Lookup(id string) mo.Option[float64] {
	if v, ok := t[id]; ok {
		return mo.Some(v)
	}
	return mo.None[float64]()
}

// Decide returns 1 when score reaches the cutoff for id and 0 otherwise.
func (t Thresholds) Decide(score float64, id string) int {
	if score >= t.Lookup(id).OrElse(DefaultThreshold) {
		return 1
	}
	return 0
}

// Calibration maps a head's raw output onto the scale its threshold was
// calibrated on.
type Calibration string

const (
	// CalibrationRaw compares the head output as is.
	CalibrationRaw Calibration = "raw"
	// CalibrationLogistic squashes the head output through the logistic
	// function first. Heads are trained with a logits loss, so their
	// thresholds live on the probability scale.
	CalibrationLogistic Calibration = "logistic"
)

// ParseCalibration validates a calibration name. An empty name selects the
// logistic calibration.
func ParseCalibration(name string) (Calibration, error) {
	switch Calibration(name) {
	case "":
		return CalibrationLogistic, nil
	case CalibrationRaw, CalibrationLogistic:
		return Calibration(name), nil
	default:
		return "", fmt.Errorf("unknown calibration %q", name)
	}
}

// Apply converts a raw head output to a comparable score.
func (c Calibration) Apply(raw float32) float64 {
	if c == CalibrationRaw {
		return float64(raw)
	}
	return 1.0 / (1.0 + math.Exp(-float64(raw)))
}
