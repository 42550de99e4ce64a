package apperrors

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrTransport         = errors.New("transport error")
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrExpiredCode       = errors.New("verification code expired")
	ErrMissingSession    = errors.New("server returned no session")
	ErrNoSession         = errors.New("no active session")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSourceUnavailable = errors.New("upload source unavailable")
	ErrAuthRequired      = errors.New("upload requires an access token")
	ErrUploadFailed      = errors.New("upload failed")
	ErrNotInWorkspace    = errors.New("no active workspace")
)

// IsAuthFailure reports whether err is one of the backend authentication rejections.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrExpiredCode) || errors.Is(err, ErrMissingSession)
}
