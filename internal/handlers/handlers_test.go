package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/chainrad/internal/model"
)

type fakeService struct {
	ready      bool
	diseases   []model.DiseaseDefinition
	admissions []model.Admission
	err        error

	gotPaths    []string
	gotContents []string
}

func (f *fakeService) Ready() bool { return f.ready }
func (f *fakeService) Diseases() []model.DiseaseDefinition { return f.diseases }
func (f *fakeService) Admissions() []model.Admission { return f.admissions }

// Predict flags D1 for every path whose file content starts with "sick".
func (f *fakeService) Predict(paths []string) ([]model.Prediction, error) {
	f.gotPaths = paths
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Prediction, len(paths))
	for i, p := range paths {
		data, _ := os.ReadFile(p)
		f.gotContents = append(f.gotContents, string(data))
		out[i] = model.Prediction{"D1": 0}
		if strings.HasPrefix(string(data), "sick") {
			out[i]["D1"] = 1
		}
	}
	return out, nil
}

func serve(t *testing.T, svc Service, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	NewHandler(svc, nil).Register(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(t, &fakeService{ready: true}, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","ready":true}`, rec.Body.String())
}

func TestDiseases(t *testing.T) {
	svc := &fakeService{
		diseases: []model.DiseaseDefinition{{ID: "D1", Name: "One", Threshold: 0.3}},
		admissions: []model.Admission{
			model.Admitted{Definition: model.DiseaseDefinition{ID: "D1", Name: "One", Threshold: 0.3}},
			model.Skipped{ID: "D2", Reason: model.SkipArtifactMissing},
		},
	}
	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/diseases", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"diseases": [{"id": "D1", "name": "One", "threshold": 0.3}],
		"skipped": [{"id": "D2", "reason": "artifact-missing"}]
	}`, rec.Body.String())
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestPredict(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")
	require.NoError(t, os.WriteFile(a, []byte("sick"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("fine"), 0o644))

	body, err := json.Marshal(PredictRequest{Paths: []string{b, a}})
	require.NoError(t, err)
	rec := serve(t, &fakeService{}, jsonRequest(string(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []Result{
		{Image: b, Findings: model.Prediction{"D1": 0}},
		{Image: a, Findings: model.Prediction{"D1": 1}},
	}, got)
}

func TestPredictErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"missing input", &model.MissingInputError{Path: "x.png", Err: os.ErrNotExist}, http.StatusBadRequest},
		{"busy", &model.StateError{Op: "lock", Msg: "cannot lock an already-locked session"}, http.StatusConflict},
		{"not ready", &model.StateError{Op: "predict", Msg: "session is not set up"}, http.StatusConflict},
		{"other", errors.New("backbone resnet152: inference failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeService{err: tt.err}, jsonRequest(`{"paths":["x.png"]}`))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestPredictRejectsBadJSON(t *testing.T) {
	svc := &fakeService{}
	rec := serve(t, svc, jsonRequest(`{"paths":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.gotPaths)
}

func TestPredictFromImage(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range []struct{ name, content string }{
		{"first.png", "fine"},
		{"second.jpg", "sick lungs"},
	} {
		part, err := w.CreateFormFile("image", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict/image", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	svc := &fakeService{}
	rec := serve(t, svc, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got []Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []Result{
		{Image: "first.png", Findings: model.Prediction{"D1": 0}},
		{Image: "second.jpg", Findings: model.Prediction{"D1": 1}},
	}, got)

	assert.Equal(t, []string{"fine", "sick lungs"}, svc.gotContents)
	require.Len(t, svc.gotPaths, 2)
	assert.Equal(t, ".jpg", filepath.Ext(svc.gotPaths[1]))
	assert.NoFileExists(t, svc.gotPaths[0], "uploads are removed after the call")
}

func TestPredictFromImageRequiresField(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("note", "no file"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict/image", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := serve(t, &fakeService{}, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/predict", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "http://example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := serve(t, &fakeService{}, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
