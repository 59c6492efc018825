package buffer

import (
	"errors"
	"fmt"
)

// ErrMessageSizeExceeded is the sentinel a caller matches against with
// errors.Is; the concrete value carries Max/Size via UnwrapMessageSizeExceeded.
var ErrMessageSizeExceeded = errors.New("message size exceeded")

// MessageSizeExceeded describes a frame whose declared length exceeded the
// reader's configured maximum.
type MessageSizeExceeded struct {
	Max  int
	Size int
}

func (e *MessageSizeExceeded) Error() string {
	return fmt.Sprintf("message size %d exceeds maximum allowed size %d", e.Size, e.Max)
}

func (e *MessageSizeExceeded) Unwrap() error {
	return ErrMessageSizeExceeded
}

// NewMessageSizeExceeded constructs the error ReadUntypedMsg returns when a
// frame's declared length is negative or larger than the reader's maximum.
func NewMessageSizeExceeded(max, size int) error {
	return &MessageSizeExceeded{Max: max, Size: size}
}

// UnwrapMessageSizeExceeded extracts the *MessageSizeExceeded from err, if
// err (or something it wraps) is one.
func UnwrapMessageSizeExceeded(err error) (*MessageSizeExceeded, bool) {
	var exceeded *MessageSizeExceeded
	if errors.As(err, &exceeded) {
		return exceeded, true
	}
	return nil, false
}

// ErrInsufficientData is returned whenever the read buffer is consumed past
// its remaining length: a malformed frame whose payload is shorter than the
// field the caller tried to decode from it.
var ErrInsufficientData = errors.New("insufficient data")

// NewInsufficientData reports that only remaining bytes are left in the
// current message buffer, short of what the caller needed.
func NewInsufficientData(remaining int) error {
	return fmt.Errorf("%w: %d bytes remaining", ErrInsufficientData, remaining)
}

// ErrMissingNulTerminator is returned by GetString when the buffer has no
// NUL byte left to terminate a wire string field.
var ErrMissingNulTerminator = errors.New("missing NUL terminator in string field")

// NewMissingNulTerminator reports a truncated NUL-terminated string field.
func NewMissingNulTerminator() error {
	return ErrMissingNulTerminator
}
