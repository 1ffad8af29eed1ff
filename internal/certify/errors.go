package certify

import "errors"

var (
	ErrInvalidCategory     = errors.New("user_type must be corporate or individual")
	ErrUnknownDocumentType = errors.New("unknown document_type")
	ErrAlreadyProcessing   = errors.New("a task is already processing, try again later")
	ErrDocumentTypeUnset   = errors.New("document_type must be set first")
	ErrMissingCredentials  = errors.New("username and password are required")
)
