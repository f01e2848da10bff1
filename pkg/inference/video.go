package inference

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/labelkit/model-server/pkg/internal/utils"
)

var (
	// ErrVideoUnsupported is returned when a model has no video session
	// support.
	ErrVideoUnsupported = utils.NewClassError("model does not support video sessions", errdefs.ErrNotImplemented)
	// ErrSessionNotFound is returned for an unknown or expired session id.
	ErrSessionNotFound = utils.NewClassError("video session not found", errdefs.ErrNotFound)
)

// VideoSessionModel is implemented by backends that track objects across the
// frames of a video. Sessions are created by InitSession and addressed by the
// returned id afterwards. The registry serializes these calls like Predict.
type VideoSessionModel interface {
	InitSession(ctx context.Context, req *VideoInit) (*VideoSession, error)
	PromptSession(ctx context.Context, req *VideoPrompt) (*VideoFrame, error)
	PropagateSession(ctx context.Context, req *VideoPropagate) (*VideoPropagation, error)
}

// VideoInit opens a session over an ordered list of frames.
type VideoInit struct {
	Frames          []*Image
	StartFrameIndex int
}

// Validate checks the frame list and start index.
func (v *VideoInit) Validate() error {
	if len(v.Frames) == 0 {
		return fmt.Errorf("%w: frames are required", ErrInvalidRequest)
	}
	if v.StartFrameIndex < 0 || v.StartFrameIndex >= len(v.Frames) {
		return fmt.Errorf("%w: start_frame_index %d out of range [0, %d)", ErrInvalidRequest, v.StartFrameIndex, len(v.Frames))
	}
	return nil
}

// VideoSession describes an open session.
type VideoSession struct {
	SessionID  string `json:"session_id"`
	FrameCount int    `json:"frame_count"`
}

// VideoPrompt adds a text or point prompt on one frame of a session.
type VideoPrompt struct {
	SessionID   string
	TextPrompt  string
	FrameIndex  int
	Points      [][]float64
	PointLabels []int
	ObjectID    *int
	Params      map[string]any
}

// Validate checks that the prompt carries text or well formed points.
func (v *VideoPrompt) Validate() error {
	if v.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	if v.FrameIndex < 0 {
		return fmt.Errorf("%w: frame_index must not be negative", ErrInvalidRequest)
	}
	if v.TextPrompt == "" && len(v.Points) == 0 {
		return fmt.Errorf("%w: text_prompt or points is required", ErrInvalidRequest)
	}
	if len(v.PointLabels) != len(v.Points) {
		return fmt.Errorf("%w: %d points but %d point_labels", ErrInvalidRequest, len(v.Points), len(v.PointLabels))
	}
	for i, p := range v.Points {
		if len(p) != 2 {
			return fmt.Errorf("%w: point %d must have 2 coordinates", ErrInvalidRequest, i)
		}
	}
	return nil
}

// VideoPropagate spreads the session prompts over a frame range. Nil bounds
// mean the start or end of the video.
type VideoPropagate struct {
	SessionID  string
	StartFrame *int
	EndFrame   *int
}

// Validate checks the frame range.
func (v *VideoPropagate) Validate() error {
	if v.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	if v.StartFrame != nil && *v.StartFrame < 0 {
		return fmt.Errorf("%w: start_frame must not be negative", ErrInvalidRequest)
	}
	if v.StartFrame != nil && v.EndFrame != nil && *v.EndFrame < *v.StartFrame {
		return fmt.Errorf("%w: end_frame %d before start_frame %d", ErrInvalidRequest, *v.EndFrame, *v.StartFrame)
	}
	return nil
}

// VideoFrame holds the shapes predicted on one frame.
type VideoFrame struct {
	FrameIndex int     `json:"frame_index"`
	Shapes     []Shape `json:"shapes"`
}

// Validate checks every shape and normalizes nil collections.
func (f *VideoFrame) Validate() error {
	res := PredictResult{Shapes: f.Shapes}
	if err := res.Validate(); err != nil {
		return err
	}
	f.Shapes = res.Shapes
	return nil
}

// VideoPropagation holds the per-frame shapes produced by a propagation.
type VideoPropagation struct {
	Frames []VideoFrame `json:"frames"`
}

// Validate checks every frame.
func (p *VideoPropagation) Validate() error {
	if p.Frames == nil {
		p.Frames = []VideoFrame{}
	}
	for i := range p.Frames {
		if err := p.Frames[i].Validate(); err != nil {
			return fmt.Errorf("frame %d: %w", p.Frames[i].FrameIndex, err)
		}
	}
	return nil
}
