package model

import (
	"github.com/samber/lo"
	"github.com/samber/mo"
)

// DiseaseDefinition is one admitted finding. It is immutable once the session
// is ready.
type DiseaseDefinition struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
}

// Tensor is a dense float32 buffer with its logical shape, e.g. (1, 3, 224, 224).
type Tensor struct {
	Shape []int64
	Data  []float32
}

// FeatureVector is the concatenated output of every backbone for one image.
type FeatureVector []float32

// Prediction maps a disease identifier to its decision (0 or 1) for one image.
type Prediction map[string]int

// Finding is a catalogue entry used by presentation layers to order and label
// decisions.
type Finding struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Catalogue lists the fourteen findings the classifier heads are trained for,
// in display order. Inference never depends on it.
var Catalogue = []Finding{
	{ID: "infiltration", Code: "3_1", Name: "Infiltration"},
	{ID: "effusion", Code: "3_2", Name: "Effusion"},
	{ID: "atelectasis", Code: "3_3", Name: "Atelectasis"},
	{ID: "nodule", Code: "3_4", Name: "Nodule"},
	{ID: "mass", Code: "3_5", Name: "Mass"},
	{ID: "pneumothorax", Code: "3_6", Name: "Pneumothorax"},
	{ID: "pleural_thickening", Code: "3_7", Name: "Pleural thickening"},
	{ID: "consolidation", Code: "3_8", Name: "Consolidation"},
	{ID: "emphysema", Code: "3_9", Name: "Emphysema"},
	{ID: "fibrosis", Code: "3_10", Name: "Fibrosis"},
	{ID: "pneumonia", Code: "3_11", Name: "Pneumonia"},
	{ID: "edema", Code: "3_12", Name: "Edema"},
	{ID: "hernia", Code: "3_13", Name: "Hernia"},
	{ID: "cardiomegaly", Code: "3_14", Name: "Cardiomegaly"},
}

// LookupFinding returns the catalogue entry for a disease identifier.
func LookupFinding(id string) mo.Option[Finding] {
	f, ok := lo.Find(Catalogue, func(f Finding) bool { return f.ID == id })
	if !ok {
		return mo.None[Finding]()
	}
	return mo.Some(f)
}
