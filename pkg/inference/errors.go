package inference

import (
	"errors"

	"github.com/containerd/errdefs"
	"github.com/labelkit/model-server/pkg/internal/utils"
)

var (
	// ErrModelNotRegistered means no backend constructor exists for a model id.
	ErrModelNotRegistered = utils.NewClassError("model not registered", errdefs.ErrNotFound)
	// ErrModelNotLoaded means the model id is absent from the instance table.
	ErrModelNotLoaded = utils.NewClassError("model not loaded", errdefs.ErrNotFound)
	// ErrLoadFailed wraps errors returned by a backend's Load.
	ErrLoadFailed = errors.New("model load failed")
	// ErrUnloadFailed wraps errors returned by a backend's Unload.
	ErrUnloadFailed = errors.New("model unload failed")
	// ErrInvalidShape is returned when a shape violates its field constraints.
	ErrInvalidShape = utils.NewClassError("invalid shape", errdefs.ErrInvalidArgument)
	// ErrInvalidRequest is returned for malformed prediction input.
	ErrInvalidRequest = utils.NewClassError("invalid request", errdefs.ErrInvalidArgument)
)
