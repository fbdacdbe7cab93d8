// SPDX-License-Identifier: GPL-3.0-or-later

package errclass

import "errors"

// FatalError marks an error that makes the whole process unusable.
//
// Construct using [Fatal].
type FatalError struct {
	// Err is the underlying error.
	Err error
}

var _ error = &FatalError{}

// Error implements error.
func (e *FatalError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err into a [*FatalError]. The nil error stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal returns whether any error in the chain is a [*FatalError].
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
