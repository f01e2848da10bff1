package utils

// classError is a sentinel with its own message that still matches an
// errdefs class through errors.Is.
type classError struct {
	msg   string
	class error
}

func (e *classError) Error() string { return e.msg }

func (e *classError) Unwrap() error { return e.class }

// NewClassError returns a sentinel error with message msg that unwraps to
// class (typically one of the containerd errdefs errors).
func NewClassError(msg string, class error) error {
	return &classError{msg: msg, class: class}
}
