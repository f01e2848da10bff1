package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/labelkit/model-server/pkg/inference"
)

type videoInitRequest struct {
	Frames          []string `json:"frames"`
	StartFrameIndex int      `json:"start_frame_index"`
	ModelPath       string   `json:"model_path,omitempty"`
}

type videoPromptRequest struct {
	SessionID   string         `json:"session_id"`
	TextPrompt  string         `json:"text_prompt,omitempty"`
	FrameIndex  int            `json:"frame_index"`
	Points      [][]float64    `json:"points,omitempty"`
	PointLabels []int          `json:"point_labels,omitempty"`
	ObjID       *int           `json:"obj_id,omitempty"`
	Params      map[string]any `json:"params"`
}

type videoPropagateRequest struct {
	SessionID  string `json:"session_id"`
	StartFrame *int   `json:"start_frame,omitempty"`
	EndFrame   *int   `json:"end_frame,omitempty"`
}

// callVideo posts v to the video route op. A 404 from the server on a
// session route means the session is gone.
func (m *Model) callVideo(ctx context.Context, op string, v, out any) error {
	if m.videoPath == "" {
		return fmt.Errorf("%w: %s", inference.ErrVideoUnsupported, m.ModelID())
	}
	if m.client == nil {
		return errors.New("remote model used before Load")
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding video %s request: %w", op, err)
	}
	err = m.post(ctx, path.Join(m.videoPath, op), body, out)
	var se *statusError
	if op != "init" && errors.As(err, &se) && se.code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", inference.ErrSessionNotFound, se.body)
	}
	return err
}

// InitSession implements inference.VideoSessionModel.InitSession.
func (m *Model) InitSession(ctx context.Context, req *inference.VideoInit) (*inference.VideoSession, error) {
	frames := make([]string, len(req.Frames))
	for i, f := range req.Frames {
		frames[i] = f.Base64()
	}
	var session inference.VideoSession
	err := m.callVideo(ctx, "init", videoInitRequest{
		Frames:          frames,
		StartFrameIndex: req.StartFrameIndex,
		ModelPath:       m.modelPath,
	}, &session)
	if err != nil {
		return nil, err
	}
	if session.FrameCount == 0 {
		session.FrameCount = len(frames)
	}
	return &session, nil
}

// PromptSession implements inference.VideoSessionModel.PromptSession.
func (m *Model) PromptSession(ctx context.Context, req *inference.VideoPrompt) (*inference.VideoFrame, error) {
	frame := inference.VideoFrame{FrameIndex: req.FrameIndex}
	err := m.callVideo(ctx, "prompt", videoPromptRequest{
		SessionID:   req.SessionID,
		TextPrompt:  req.TextPrompt,
		FrameIndex:  req.FrameIndex,
		Points:      req.Points,
		PointLabels: req.PointLabels,
		ObjID:       req.ObjectID,
		Params:      m.Params(req.Params),
	}, &frame)
	if err != nil {
		return nil, err
	}
	return &frame, nil
}

// PropagateSession implements inference.VideoSessionModel.PropagateSession.
func (m *Model) PropagateSession(ctx context.Context, req *inference.VideoPropagate) (*inference.VideoPropagation, error) {
	var result inference.VideoPropagation
	err := m.callVideo(ctx, "propagate", videoPropagateRequest{
		SessionID:  req.SessionID,
		StartFrame: req.StartFrame,
		EndFrame:   req.EndFrame,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
