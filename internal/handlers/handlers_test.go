package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Brownie44l1/demohub/internal/apps"
	"github.com/Brownie44l1/demohub/internal/decision"
	"github.com/Brownie44l1/demohub/internal/model"
	"github.com/Brownie44l1/demohub/internal/preprocess"
	"github.com/Brownie44l1/demohub/internal/store"
)

type fakePredictor struct {
	result  *apps.Result
	err     error
	got     apps.Input
	gotID   string
	records []store.Record
	limit   int
}

func (f *fakePredictor) List() []apps.Info {
	return []apps.Info{
		{ID: "catsvsdogs", Title: "Cats vs Dogs", Kind: "image", Classes: []string{"Cat", "Dog"}},
		{ID: "sentiment", Title: "Sentiment Analysis", Kind: "text"},
	}
}

func (f *fakePredictor) Predict(ctx context.Context, id string, in apps.Input) (*apps.Result, error) {
	f.gotID = id
	f.got = in
	return f.result, f.err
}

func (f *fakePredictor) History(ctx context.Context, id string, limit int) ([]store.Record, error) {
	f.limit = limit
	return f.records, f.err
}

func newTestRouter(p Predictor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(p, 1<<20, zap.NewNop())
	return NewRouter(h, []string{"http://localhost:3000"}, zap.NewNop())
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		part.Write(data)
	} else {
		require.NoError(t, w.WriteField(field, string(data)))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	r := newTestRouter(&fakePredictor{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestListApps(t *testing.T) {
	r := newTestRouter(&fakePredictor{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apps", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Apps []apps.Info `json:"apps"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Apps, 2)
	assert.Equal(t, "catsvsdogs", res.Apps[0].ID)
}

func TestPredict_ImageUpload(t *testing.T) {
	p := &fakePredictor{result: &apps.Result{App: "catsvsdogs", Label: "Dog", Confidence: 0.9, Tier: decision.TierHigh}}
	r := newTestRouter(p)

	body, contentType := multipartBody(t, "image", "dog.jpg", []byte("jpeg-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/apps/catsvsdogs/predict", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "catsvsdogs", p.gotID)
	assert.Equal(t, "dog.jpg", p.got.Filename)
	assert.Equal(t, []byte("jpeg-bytes"), p.got.Data)

	var res apps.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Dog", res.Label)
	assert.Equal(t, decision.TierHigh, res.Tier)
}

func TestPredict_MissingImageField(t *testing.T) {
	r := newTestRouter(&fakePredictor{})

	body, contentType := multipartBody(t, "file", "dog.jpg", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/apps/catsvsdogs/predict", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredict_TextInputs(t *testing.T) {
	tests := []struct {
		name     string
		body     func(t *testing.T) (*bytes.Buffer, string)
		wantText string
	}{
		{
			name: "json",
			body: func(t *testing.T) (*bytes.Buffer, string) {
				return bytes.NewBufferString(`{"text":"great movie"}`), "application/json"
			},
			wantText: "great movie",
		},
		{
			name: "form field",
			body: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "text", "", []byte("awful plot"))
			},
			wantText: "awful plot",
		},
		{
			name: "plain body",
			body: func(t *testing.T) (*bytes.Buffer, string) {
				return bytes.NewBufferString("just fine"), "text/plain"
			},
			wantText: "just fine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePredictor{result: &apps.Result{Label: "Positive"}}
			r := newTestRouter(p)

			body, contentType := tt.body(t)
			req := httptest.NewRequest(http.MethodPost, "/apps/sentiment/predict", body)
			req.Header.Set("Content-Type", contentType)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tt.wantText, p.got.Text)
		})
	}
}

func TestPredict_InvalidJSON(t *testing.T) {
	r := newTestRouter(&fakePredictor{})

	req := httptest.NewRequest(http.MethodPost, "/apps/sentiment/predict", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredict_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %q", apps.ErrUnknownApp, "x"), http.StatusNotFound},
		{fmt.Errorf("%w: gif", preprocess.ErrUnsupportedFormat), http.StatusBadRequest},
		{fmt.Errorf("%w: empty", preprocess.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: load failed", model.ErrModelUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: expected 12 values, got 5", model.ErrInputShape), http.StatusInternalServerError},
		{fmt.Errorf("%w: value 0 is NaN", model.ErrModelOutput), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			r := newTestRouter(&fakePredictor{err: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/apps/x/predict", strings.NewReader(`{"text":"hi"}`))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			var res ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestPredict_InputShapeLogsMisconfiguration(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.ErrorLevel)
	p := &fakePredictor{err: fmt.Errorf("%w: expected 12 values, got 5", model.ErrInputShape)}
	r := NewRouter(NewHandler(p, 1<<20, zap.New(core)), nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/apps/catsvsdogs/predict", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "metadata misconfigured")
}

func TestPredict_BodyTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(&fakePredictor{}, 8, zap.NewNop())
	r := NewRouter(h, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/apps/sentiment/predict", strings.NewReader(strings.Repeat("a", 64)))
	req.Header.Set("Content-Type", "text/plain")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHistory(t *testing.T) {
	p := &fakePredictor{records: []store.Record{{ID: "a", App: "catsvsdogs", Label: "Dog"}}}
	r := newTestRouter(p)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apps/catsvsdogs/history?limit=5000", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxHistoryLimit, p.limit)

	var res HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "catsvsdogs", res.App)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Dog", res.Records[0].Label)
}

func TestHistory_DefaultsAndErrors(t *testing.T) {
	p := &fakePredictor{}
	r := newTestRouter(p)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apps/catsvsdogs/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultHistoryLimit, p.limit)
	assert.JSONEq(t, `{"app":"catsvsdogs","records":[]}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apps/catsvsdogs/history?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	p.err = fmt.Errorf("%w: %q", apps.ErrUnknownApp, "nope")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apps/nope/history", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	r := newTestRouter(&fakePredictor{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
