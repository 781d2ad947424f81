package login

import "errors"

// Phase is the lifecycle status of one login attempt.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseError
	PhaseSuccess
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhaseError:
		return "error"
	case PhaseSuccess:
		return "success"
	default:
		return "unknown"
	}
}

const (
	// MessageInvalidCredentials is shown for both rejected credentials and collaborator failures.
	MessageInvalidCredentials = "Invalid email or password"
	// MessageRequired is shown when either field is blank.
	MessageRequired = "Email and password are required"
	// MessageInFlight is shown when a second submit arrives while one is pending.
	MessageInFlight = "A sign-in attempt is already in progress"
)

var (
	// ErrSubmissionInFlight is returned when Submit is called while a previous submit is pending.
	ErrSubmissionInFlight = errors.New("login: submission already in flight")
	// ErrMissingCredentials is returned when email or password is blank.
	ErrMissingCredentials = errors.New("login: email and password are required")
)

// Credentials are held only for the duration of one submission.
type Credentials struct {
	Email    string
	Password string
}

// Snapshot is a copy of the controller's form state.
type Snapshot struct {
	Phase Phase
	Error string
}

// Submitting reports whether a collaborator call is pending.
func (s Snapshot) Submitting() bool {
	return s.Phase == PhaseSubmitting
}
