package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the user-facing layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindNetwork
	KindNotFound
	KindPersistence
	KindMalformedResult
	KindJobFailed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	case KindMalformedResult:
		return "malformed_result"
	case KindJobFailed:
		return "job_failed"
	default:
		return "unknown"
	}
}

// Error is an error tagged with a Kind. Msg is safe to show to users.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a sentinel-style error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags err with kind, keeping it in the chain.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

var (
	ErrMissingFile      = New(KindValidation, "Please select a file.")
	ErrInvalidFileType  = New(KindValidation, "Please upload a valid mp3 or mp4 file.")
	ErrAuthFailed       = New(KindAuth, "Incorrect username or password.")
	ErrAuthChallenge    = New(KindAuth, "Additional verification is required to sign in.")
	ErrNotSignedIn      = New(KindAuth, "Please sign in.")
	ErrForbidden        = New(KindAuth, "You do not have access to this transcript.")
	ErrIndexMissing     = New(KindNotFound, "The table does not have the specified index.")
	ErrRecordNotFound   = New(KindNotFound, "Transcript not found.")
	ErrMediaUnavailable = New(KindNotFound, "Media is unavailable for this transcript.")
	ErrJobNotFound      = New(KindNotFound, "Transcription job not found.")
	ErrOrphanedMedia    = New(KindPersistence, "Transcript deleted but its media could not be removed.")
	ErrMalformedResult  = New(KindMalformedResult, "The transcription result could not be read.")
	ErrJobFailed        = New(KindJobFailed, "Transcription failed.")
)

// KindOf returns the Kind of the first tagged error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the text shown to a user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "Something went wrong. Please try again."
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		if errors.Is(err, ErrForbidden) {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindNetwork:
		return http.StatusBadGateway
	case KindMalformedResult, KindJobFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
