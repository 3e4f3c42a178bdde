package round

import "errors"

var (
	// ErrInvalidContent is returned when the round receives a content of the wrong type.
	ErrInvalidContent = errors.New("round: invalid content")
	// ErrNilFields is returned when the round receives a content with missing fields.
	ErrNilFields = errors.New("round: message contains nil fields")
)
