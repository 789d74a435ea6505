package types

// ErrorKind is the stable tag carried on every structured error event so
// clients can branch without matching message strings.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindNotFound       ErrorKind = "not_found"
	KindValidation     ErrorKind = "validation"
	KindInternal       ErrorKind = "internal"
)

// GatewayError is the error payload sent back to the originating connection.
// Handlers never let one escape to terminate the connection.
type GatewayError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *GatewayError) Error() string {
	return e.Message
}

// NewGatewayError builds a structured error with the given kind tag.
func NewGatewayError(kind ErrorKind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}
