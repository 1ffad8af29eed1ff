package task

import "errors"

var (
	ErrNotProcessing = errors.New("task is not processing")
	ErrEmptySubject  = errors.New("empty subject")
)
