package errors

// Result is the outcome of a user-facing operation.
// Failures never escape as faults; they carry a human-readable message instead.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OK returns a successful result.
func OK() Result {
	return Result{Success: true}
}

// Fail returns a failed result with msg.
func Fail(msg string) Result {
	return Result{Success: false, Message: msg}
}

// FromError converts err into a Result. Domain errors contribute their
// message without the wrapped cause.
func FromError(err error) Result {
	if err == nil {
		return OK()
	}
	var domainErr *Error
	if As(err, &domainErr) {
		return Fail(domainErr.Message)
	}
	return Fail(err.Error())
}

