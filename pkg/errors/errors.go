package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
)

// Error kinds shared by every layer. Lower layers wrap them with
// fmt.Errorf("%w: ...") so handlers can map any error to a status code.
var (
	ErrNotFound     = stderrors.New("not found")
	ErrConflict     = stderrors.New("conflict")
	ErrUnauthorized = stderrors.New("unauthorized")
	ErrForbidden    = stderrors.New("forbidden")
	ErrValidation   = stderrors.New("validation failed")
)

type AppError struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Err     error                  `json:"-"`
	Fields  map[string]interface{} `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Fields:  make(map[string]interface{}),
	}
}

// WithField adds a single additional field to be serialized with the error response.
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, message, nil)
}

func Unauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, message, nil)
}

func Forbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, message, nil)
}

func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, message, nil)
}

func InternalServerError(message string, err error) *AppError {
	return NewAppError(http.StatusInternalServerError, message, err)
}

// From maps an arbitrary error onto the taxonomy. The message of a wrapped
// kind is the text after the kind prefix; internal failures never leak their
// cause to the client.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	switch {
	case stderrors.Is(err, ErrNotFound):
		return NewAppError(http.StatusNotFound, message(err, ErrNotFound), err)
	case stderrors.Is(err, ErrConflict):
		return NewAppError(http.StatusConflict, message(err, ErrConflict), err)
	case stderrors.Is(err, ErrUnauthorized):
		return NewAppError(http.StatusUnauthorized, message(err, ErrUnauthorized), err)
	case stderrors.Is(err, ErrForbidden):
		return NewAppError(http.StatusForbidden, message(err, ErrForbidden), err)
	case stderrors.Is(err, ErrValidation):
		return NewAppError(http.StatusBadRequest, message(err, ErrValidation), err)
	default:
		return InternalServerError("internal server error", err)
	}
}

func message(err, kind error) string {
	msg := err.Error()
	prefix := kind.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}

func WriteError(w http.ResponseWriter, err *AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	payload := map[string]interface{}{
		"error": err.Message,
		"code":  err.Code,
	}
	for k, v := range err.Fields { // include any supplemental fields
		// avoid overwriting core keys
		if k == "error" || k == "code" {
			continue
		}
		payload[k] = v
	}
	_ = json.NewEncoder(w).Encode(payload)
}
