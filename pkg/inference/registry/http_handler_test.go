package registry

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labelkit/model-server/pkg/inference"
	"github.com/labelkit/model-server/pkg/inference/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestHandler(t *testing.T) *HTTPHandler {
	t.Helper()
	yolo := modelConfig("yolo11n", config.WidgetConfig{Name: config.WidgetConfidence, Value: 0.25})
	yolo.Params = map[string]any{"conf": 0.25}
	cat := newMemCatalog("yolo11n", "failing").add(yolo).add(modelConfig("failing"))
	fac := newFakeFactory().
		with("yolo11n", &fakeModel{}).
		with("failing", &fakeModel{predictErr: errBoom})

	r, _ := newTestRegistry(t, cat, fac)
	r.LoadAll(context.Background())
	return NewHTTPHandler(r, nil, nil)
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPHandler_ListModels(t *testing.T) {
	rec := serve(newTestHandler(t), http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	models := body["models"]
	require.Len(t, models, 2)
	yolo := models["yolo11n"]
	assert.Equal(t, "Model yolo11n", yolo["display_name"])
	assert.Equal(t, "default", yolo["batch_processing_mode"])
	assert.Equal(t, map[string]any{"conf": 0.25}, yolo["params"])
	assert.Equal(t, []any{map[string]any{"name": "edit_conf", "value": 0.25}}, yolo["widgets"])
}

func TestHTTPHandler_Health(t *testing.T) {
	rec := serve(newTestHandler(t), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","models_loaded":2}`, rec.Body.String())

	_, err := uuid.Parse(rec.Header().Get(inference.RequestIDHeader))
	assert.NoError(t, err, "every response carries a request id")
}

func TestHTTPHandler_Predict(t *testing.T) {
	h := newTestHandler(t)
	body := `{"model":"yolo11n","image":"data:image/png;base64,` + pngBase64(t) + `","params":{"conf":0.5}}`
	rec := serve(h, http.MethodPost, "/v1/predict", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res inference.PredictResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Shapes, 1)
	assert.Equal(t, "obj", res.Shapes[0].Label)
	assert.Equal(t, inference.ShapePoint, res.Shapes[0].ShapeType)
}

func TestHTTPHandler_PredictErrors(t *testing.T) {
	h := newTestHandler(t)
	img := pngBase64(t)

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"invalid json", `{"model":`, http.StatusBadRequest, "invalid request"},
		{"missing model", `{"image":"` + img + `"}`, http.StatusBadRequest, "model is required"},
		{"missing image", `{"model":"yolo11n"}`, http.StatusBadRequest, "image is required"},
		{"bad image", `{"model":"yolo11n","image":"aGVsbG8="}`, http.StatusBadRequest, "invalid request"},
		{"unknown model", `{"model":"sam","image":"` + img + `"}`, http.StatusNotFound, "model not loaded"},
		{"backend failure", `{"model":"failing","image":"` + img + `"}`, http.StatusInternalServerError, "prediction failed: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodPost, "/v1/predict", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, tt.msg)
			assert.Equal(t, rec.Header().Get(inference.RequestIDHeader), resp.RequestID)
		})
	}
}

func TestHTTPHandler_NotFound(t *testing.T) {
	rec := serve(newTestHandler(t), http.MethodGet, "/v2/whatever", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}

func TestHTTPHandler_CORS(t *testing.T) {
	h := newTestHandler(t)
	h.RebuildRoutes([]string{"http://example.com"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func newVideoTestHandler(t *testing.T) *HTTPHandler {
	t.Helper()
	cat := newMemCatalog("segment_anything_3", "yolo11n").
		add(modelConfig("segment_anything_3")).
		add(modelConfig("yolo11n"))
	fac := newFakeFactory().withVideo("segment_anything_3", newFakeVideoModel()).with("yolo11n", &fakeModel{})
	r, _ := newTestRegistry(t, cat, fac)
	r.LoadAll(context.Background())
	return NewHTTPHandler(r, nil, nil)
}

func TestHTTPHandler_VideoSession(t *testing.T) {
	h := newVideoTestHandler(t)
	img := pngBase64(t)

	rec := serve(h, http.MethodPost, "/v1/video/init",
		`{"model":"segment_anything_3","frames":["`+img+`","`+img+`","`+img+`"],"start_frame_index":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"session_id":"session-1","frame_count":3}`, rec.Body.String())

	rec = serve(h, http.MethodPost, "/v1/video/prompt",
		`{"session_id":"session-1","model":"segment_anything_3","frame_index":2,"points":[[3,4]],"point_labels":[1],"obj_id":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var frame inference.VideoFrame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frame))
	assert.Equal(t, 2, frame.FrameIndex)
	require.Len(t, frame.Shapes, 1)

	rec = serve(h, http.MethodPost, "/v1/video/propagate",
		`{"session_id":"session-1","model":"segment_anything_3","start_frame":1,"end_frame":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var prop inference.VideoPropagation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prop))
	require.Len(t, prop.Frames, 2)
	assert.Equal(t, 1, prop.Frames[0].FrameIndex)
}

func TestHTTPHandler_VideoErrors(t *testing.T) {
	h := newVideoTestHandler(t)
	img := pngBase64(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		msg    string
	}{
		{"init invalid json", "/v1/video/init", `{"model":`, http.StatusBadRequest, "invalid request"},
		{"init missing model", "/v1/video/init", `{"frames":["` + img + `"]}`, http.StatusBadRequest, "model is required"},
		{"init no frames", "/v1/video/init", `{"model":"segment_anything_3","frames":[]}`, http.StatusBadRequest, "frames are required"},
		{"init start out of range", "/v1/video/init", `{"model":"segment_anything_3","frames":["` + img + `"],"start_frame_index":1}`, http.StatusBadRequest, "start_frame_index 1 out of range"},
		{"init bad frame", "/v1/video/init", `{"model":"segment_anything_3","frames":["aGVsbG8="]}`, http.StatusBadRequest, "frame 0"},
		{"init unsupported model", "/v1/video/init", `{"model":"yolo11n","frames":["` + img + `"]}`, http.StatusNotImplemented, "does not support video sessions"},
		{"init unknown model", "/v1/video/init", `{"model":"sam","frames":["` + img + `"]}`, http.StatusNotFound, "model not loaded"},
		{"prompt unknown session", "/v1/video/prompt", `{"session_id":"gone","model":"segment_anything_3","text_prompt":"car"}`, http.StatusNotFound, "video session not found"},
		{"prompt without text or points", "/v1/video/prompt", `{"session_id":"s","model":"segment_anything_3"}`, http.StatusBadRequest, "text_prompt or points is required"},
		{"prompt labels mismatch", "/v1/video/prompt", `{"session_id":"s","model":"segment_anything_3","points":[[1,2]]}`, http.StatusBadRequest, "1 points but 0 point_labels"},
		{"propagate missing session", "/v1/video/propagate", `{"model":"segment_anything_3"}`, http.StatusBadRequest, "session_id is required"},
		{"propagate reversed range", "/v1/video/propagate", `{"session_id":"s","model":"segment_anything_3","start_frame":3,"end_frame":1}`, http.StatusBadRequest, "end_frame 1 before start_frame 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, tt.msg)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(inference.ErrModelNotLoaded))
	assert.Equal(t, http.StatusBadRequest, statusFor(inference.ErrInvalidShape))
	assert.Equal(t, http.StatusNotImplemented, statusFor(inference.ErrVideoUnsupported))
	assert.Equal(t, http.StatusNotFound, statusFor(inference.ErrSessionNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errBoom))
}
