package imgsrc

import "errors"

// ErrEmptyImage is returned when saving or encoding the empty image.
var ErrEmptyImage = errors.New("imgsrc: empty image")
