package batchkwargs

import "fmt"

// Error reports batch kwargs that cannot be built or materialized.
type Error struct {
	Message string
	Kwargs  *Kwargs
}

func NewError(message string, kwargs *Kwargs) *Error {
	return &Error{Message: message, Kwargs: kwargs}
}

func Errorf(kwargs *Kwargs, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Kwargs: kwargs}
}

func (e *Error) Error() string {
	if e.Kwargs == nil || e.Kwargs.Len() == 0 {
		return e.Message
	}
	return e.Message + " " + e.Kwargs.String()
}
