// Package errs separates the failures a node API may explain to its caller
// from the ones it must hide behind a 500.
package errs

import (
	"errors"
	"net/http"
)

// Response is the JSON body written for a failed request.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted marks an error whose message is safe to show the caller along
// with the status to answer with. Fields name the request fields at fault.
type Trusted struct {
	Err    error
	Status int
	Fields map[string]string
}

// NewTrusted marks err as safe to return with the status.
func NewTrusted(err error, status int) error {
	return &Trusted{Err: err, Status: status}
}

// NewFieldsError marks err as safe to return and attaches the per field
// messages produced by request validation.
func NewFieldsError(err error, status int, fields map[string]string) error {
	return &Trusted{Err: err, Status: status, Fields: fields}
}

func (t *Trusted) Error() string {
	return t.Err.Error()
}

func (t *Trusted) Unwrap() error {
	return t.Err
}

// IsTrusted reports whether a Trusted error is in the chain.
func IsTrusted(err error) bool {
	return GetTrusted(err) != nil
}

// GetTrusted returns the first Trusted error in the chain or nil.
func GetTrusted(err error) *Trusted {
	var t *Trusted
	if errors.As(err, &t) {
		return t
	}
	return nil
}

// ToResponse maps an error to the body and status sent to the caller. Only
// a Trusted error exposes its message.
func ToResponse(err error) (Response, int) {
	t := GetTrusted(err)
	if t == nil {
		return Response{Error: http.StatusText(http.StatusInternalServerError)}, http.StatusInternalServerError
	}

	return Response{Error: t.Error(), Fields: t.Fields}, t.Status
}
