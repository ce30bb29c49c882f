package types

import "errors"

// ErrUnsupportedFileType is returned when a format tag is not csv, json or xml
var ErrUnsupportedFileType = errors.New("unsupported file type")
