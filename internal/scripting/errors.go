package scripting

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrConversion matches every *ConversionError via errors.Is.
var ErrConversion = errors.New("conversion failed")

// ConversionError reports that a script value could not be converted to the
// host type a collection or method requires.
type ConversionError struct {
	// Value is the value being converted, exported from the script side.
	Value any
	// Target is the requested host type.
	Target reflect.Type
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("cannot convert %#v to %s", e.Value, typeString(e.Target))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

func (e *ConversionError) Unwrap() error { return e.Err }

// RuntimeError wraps a failure raised while running script code on behalf of
// the host, or while building the objects that do so.
type RuntimeError struct {
	// Op names the failed operation, e.g. "adapter.Create" or "Runnable.Run".
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	return "script runtime error: " + e.Op + ": " + e.Err.Error()
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// WrapRuntime returns err wrapped in a *RuntimeError, or nil. Errors that are
// already runtime errors are returned unchanged.
func WrapRuntime(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return &RuntimeError{Op: op, Err: err}
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
