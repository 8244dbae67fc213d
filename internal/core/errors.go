package core

// DomainError is a typed negative outcome of a store operation. Code is the
// wire reply token the session handler sends back; the connection always
// stays open.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

var (
	ErrLoginFailed       = &DomainError{Code: "LOGIN_FAILED", Message: "bad username or credential"}
	ErrUsernameTaken     = &DomainError{Code: "USERNAME_TAKEN", Message: "username already registered"}
	ErrUserNotFound      = &DomainError{Code: "USER_NOT_FOUND", Message: "no such user"}
	ErrInvalidStatus     = &DomainError{Code: "INVALID_STATUS", Message: "status must be Online, Offline or Invisible"}
	ErrChannelNotFound   = &DomainError{Code: "CHANNEL_NOT_FOUND", Message: "no such channel"}
	ErrAlreadyMember     = &DomainError{Code: "ALREADY_MEMBER", Message: "already a channel member"}
	ErrNotAMember        = &DomainError{Code: "NOT_A_MEMBER", Message: "not a channel member"}
	ErrHostCannotLeave   = &DomainError{Code: "HOST_CANNOT_LEAVE", Message: "the host cannot leave its channel"}
	ErrVisitorNotAllowed = &DomainError{Code: "VISITOR_NOT_ALLOWED", Message: "visitors cannot perform this operation"}
	ErrNoStream          = &DomainError{Code: "NO_STREAM", Message: "no active livestream for this channel"}
	ErrStreamActive      = &DomainError{Code: "STREAM_ACTIVE", Message: "another member is already streaming"}
)
