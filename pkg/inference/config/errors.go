package config

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/labelkit/model-server/pkg/internal/utils"
)

var (
	// ErrNoCatalog is returned alongside an empty list when models.yaml does
	// not exist. Callers proceed with zero models.
	ErrNoCatalog = errors.New("model catalog not found")
	// ErrConfigNotFound means the per-model document does not exist.
	ErrConfigNotFound = utils.NewClassError("model config not found", errdefs.ErrNotFound)
	// ErrConfigEmpty means the per-model document exists but has no content.
	ErrConfigEmpty = utils.NewClassError("model config is empty", errdefs.ErrInvalidArgument)
	// ErrConfigInvalid covers malformed documents and validation failures.
	ErrConfigInvalid = utils.NewClassError("model config is invalid", errdefs.ErrInvalidArgument)
)

// ValidationError is a single validation failure attributed to one catalog
// entry. It matches ErrConfigInvalid with errors.Is.
type ValidationError struct {
	// Key is the catalog entry the failing document was read for.
	Key string
	// ModelID is the model_id declared inside the document.
	ModelID string
	// Widget is set for widget rule failures.
	Widget string
	// Err describes the failure.
	Err error
}

func (e *ValidationError) Error() string {
	if e.Widget != "" {
		return fmt.Sprintf("model [%s]: widget '%s': %v", e.Key, e.Widget, e.Err)
	}
	return fmt.Sprintf("model [%s]: %v", e.Key, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrConfigInvalid, e.Err}
}
