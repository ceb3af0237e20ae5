package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Brownie44l1/chainrad/internal/model"
)

// Service is the inference surface the handlers expose.
type Service interface {
	Ready() bool
	Diseases() []model.DiseaseDefinition
	Admissions() []model.Admission
	Predict(paths []string) ([]model.Prediction, error)
}

// PredictorService adapts a Predictor to Service.
type PredictorService struct {
	*model.Predictor
}

func (s PredictorService) Ready() bool { return s.Session().Ready() }

func (s PredictorService) Diseases() []model.DiseaseDefinition { return s.Session().Diseases() }

func (s PredictorService) Admissions() []model.Admission { return s.Session().Admissions() }

type Handler struct {
	svc Service
	log *zap.Logger
}

func NewHandler(svc Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log.Named("http")}
}

// Register mounts every route on e behind a permissive CORS policy.
func (h *Handler) Register(e *echo.Echo) {
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.GET("/health", h.Health)
	e.GET("/diseases", h.Diseases)
	e.POST("/predict", h.Predict)
	e.POST("/predict/image", h.PredictFromImage)
}

type HealthResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Ready: h.svc.Ready()})
}

type SkippedDisease struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type DiseasesResponse struct {
	Diseases []model.DiseaseDefinition `json:"diseases"`
	Skipped  []SkippedDisease          `json:"skipped"`
}

func (h *Handler) Diseases(c echo.Context) error {
	resp := DiseasesResponse{
		Diseases: h.svc.Diseases(),
		Skipped:  []SkippedDisease{},
	}
	if resp.Diseases == nil {
		resp.Diseases = []model.DiseaseDefinition{}
	}
	for _, a := range h.svc.Admissions() {
		if s, ok := a.(model.Skipped); ok {
			resp.Skipped = append(resp.Skipped, SkippedDisease{ID: s.ID, Reason: string(s.Reason)})
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type PredictRequest struct {
	Paths []string `json:"paths"`
}

// Result is the decision set for one image.
type Result struct {
	Image    string           `json:"image"`
	Findings model.Prediction `json:"findings"`
}

func (h *Handler) Predict(c echo.Context) error {
	var req PredictRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON")
	}
	preds, err := h.svc.Predict(req.Paths)
	if err != nil {
		return h.predictionError(err)
	}
	return c.JSON(http.StatusOK, results(req.Paths, preds))
}

// PredictFromImage classifies uploaded files. Every "image" field is stored
// in a temporary directory for the duration of the call.
func (h *Handler) PredictFromImage(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to parse form")
	}
	files := form.File["image"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest,
			"No image file provided. Use 'image' as the form field name")
	}

	dir, err := os.MkdirTemp("", "chainrad-upload-")
	if err != nil {
		return h.predictionError(fmt.Errorf("create upload dir: %w", err))
	}
	defer os.RemoveAll(dir)

	names := make([]string, len(files))
	paths := make([]string, len(files))
	for i, fh := range files {
		names[i] = fh.Filename
		paths[i] = filepath.Join(dir, fmt.Sprintf("%03d%s", i, filepath.Ext(fh.Filename)))
		if err := saveUpload(fh, paths[i]); err != nil {
			return h.predictionError(fmt.Errorf("store upload %s: %w", fh.Filename, err))
		}
		h.log.Debug("received file", zap.String("name", fh.Filename), zap.Int64("bytes", fh.Size))
	}

	preds, err := h.svc.Predict(paths)
	if err != nil {
		return h.predictionError(err)
	}
	return c.JSON(http.StatusOK, results(names, preds))
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func results(images []string, preds []model.Prediction) []Result {
	out := make([]Result, len(preds))
	for i, p := range preds {
		out[i] = Result{Image: images[i], Findings: p}
	}
	return out
}

// predictionError maps the error taxonomy onto HTTP status codes.
func (h *Handler) predictionError(err error) error {
	switch {
	case errors.Is(err, model.ErrMissingInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		h.log.Error("prediction failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Prediction failed")
	}
}
