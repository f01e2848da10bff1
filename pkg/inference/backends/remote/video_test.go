package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labelkit/model-server/pkg/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModel_VideoSession(t *testing.T) {
	var (
		gotInit   videoInitRequest
		gotPrompt videoPromptRequest
		gotProp   videoPropagateRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
		case "/sam/init":
			if err := json.NewDecoder(r.Body).Decode(&gotInit); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"session_id":"abc"}`))
		case "/sam/prompt":
			if err := json.NewDecoder(r.Body).Decode(&gotPrompt); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if gotPrompt.SessionID != "abc" {
				http.Error(w, "unknown session", http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"frame_index":1,"shapes":[{"label":"car","shape_type":"point","points":[[3,4]]}]}`))
		case "/sam/propagate":
			if err := json.NewDecoder(r.Body).Decode(&gotProp); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"frames":[{"frame_index":1,"shapes":[]},{"frame_index":2,"shapes":[]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := newModel(t, srv.URL, map[string]any{"video_sessions": true, "video_path": "/sam", "model_path": "sam3.pt"})
	require.NoError(t, m.Load(context.Background()))
	ctx := context.Background()

	img := testImage(t)
	session, err := m.InitSession(ctx, &inference.VideoInit{Frames: []*inference.Image{img, img}})
	require.NoError(t, err)
	assert.Equal(t, "abc", session.SessionID)
	assert.Equal(t, 2, session.FrameCount, "frame count defaults to the frames sent")
	assert.Equal(t, []string{img.Base64(), img.Base64()}, gotInit.Frames)
	assert.Equal(t, "sam3.pt", gotInit.ModelPath)

	obj := 3
	frame, err := m.PromptSession(ctx, &inference.VideoPrompt{
		SessionID:   "abc",
		FrameIndex:  1,
		Points:      [][]float64{{3, 4}},
		PointLabels: []int{1},
		ObjectID:    &obj,
		Params:      map[string]any{"conf": 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, frame.FrameIndex)
	require.Len(t, frame.Shapes, 1)
	require.NotNil(t, gotPrompt.ObjID)
	assert.Equal(t, 3, *gotPrompt.ObjID)
	assert.Equal(t, 0.5, gotPrompt.Params["conf"])

	_, err = m.PromptSession(ctx, &inference.VideoPrompt{SessionID: "expired", TextPrompt: "car"})
	assert.ErrorIs(t, err, inference.ErrSessionNotFound)

	end := 2
	prop, err := m.PropagateSession(ctx, &inference.VideoPropagate{SessionID: "abc", EndFrame: &end})
	require.NoError(t, err)
	assert.Len(t, prop.Frames, 2)
	assert.Nil(t, gotProp.StartFrame)
	require.NotNil(t, gotProp.EndFrame)
	assert.Equal(t, 2, *gotProp.EndFrame)
}

func TestModel_VideoDisabled(t *testing.T) {
	m := newModel(t, "http://localhost:1", nil)
	_, err := m.InitSession(context.Background(), &inference.VideoInit{Frames: []*inference.Image{{}}})
	assert.ErrorIs(t, err, inference.ErrVideoUnsupported)
}
