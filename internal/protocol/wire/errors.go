package wire

import "errors"

var (
	ErrTruncated      = errors.New("wire: truncated data")
	ErrMalformed      = errors.New("wire: malformed node")
	ErrUnknownKind    = errors.New("wire: unknown attribute kind")
	ErrDuplicateAttr  = errors.New("wire: duplicate attribute")
	ErrEmptyTag       = errors.New("wire: empty tag")
	ErrTooLong        = errors.New("wire: field too long")
	ErrTooDeep        = errors.New("wire: node nesting too deep")
	ErrFrameTooLarge  = errors.New("wire: frame too large")
	ErrUnknownFlags   = errors.New("wire: unknown frame flags")
	ErrBadCompression = errors.New("wire: bad compressed body")
)
