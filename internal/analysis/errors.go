package analysis

import "errors"

// Error kinds. Match with errors.Is.
var (
	// ErrValidation means the caller's request was malformed
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means the object or task could not be resolved for the analyst
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the analyst may see the object but not perform the operation
	ErrForbidden = errors.New("forbidden")

	// ErrUnsupportedType means no context can be built for the object's type
	ErrUnsupportedType = errors.New("unsupported object type")

	// ErrUnknownService means the named analyzer is not registered
	ErrUnknownService = errors.New("unknown analysis service")
)

// User-facing messages returned in Outcome.Message.
const (
	msgMissingIDs      = "Must supply object id/type and analysis id."
	msgNoObjectResults = "Could not find object to add results to."
	msgNoObjectLog     = "Could not find object to add log to."
	msgNoTask          = "Could not find an analysis task to update."
	msgNeedResult      = "Need a result, type, and subtype to add a result."
	msgStoreFailed     = "Could not update analysis task."
	msgSourcesFailed   = "Could not resolve analyst sources."

	msgMissingObjectIDs = "Must supply object id/type."
	msgNoFields         = "Must supply a field to update."
	msgEmptyTitle       = "Title cannot be empty."
	msgEventTypeOnly    = "Only events have an event type."
	msgEmptyEventType   = "Event type cannot be empty."
	msgNoObjectUpdate   = "Could not find object to update."
	msgNoObjectRemove   = "Could not find object to remove."
	msgNoRelated        = "Could not find object to relate to."
	msgNotAdmin         = "Only administrators may remove objects."
	msgObjectFailed     = "Could not update object."
)

// Error carries a user-facing message, its kind and an optional cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func validationError(msg string) *Error { return &Error{Kind: ErrValidation, Message: msg} }

func notFoundError(msg string) *Error { return &Error{Kind: ErrNotFound, Message: msg} }

func forbiddenError(msg string) *Error { return &Error{Kind: ErrForbidden, Message: msg} }

func internalError(msg string, cause error) *Error { return &Error{Message: msg, Cause: cause} }

// Outcome is the uniform result of a task mutation. Mutations never return a
// bare error; callers render Message when Success is false.
type Outcome struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	AnalysisID string `json:"analysis_id,omitempty"`
	Err        error  `json:"-"`
}

func succeeded() Outcome { return Outcome{Success: true} }

func failed(e *Error) Outcome {
	return Outcome{Message: e.Message, Err: e}
}
