package domain

import "errors"

// Client input errors. Surfaced to callers as 4xx with their message.
var (
	ErrMalformedPayload = errors.New("request body must be a JSON object")
	ErrMissingField     = errors.New("required field is missing")
	ErrMissingDomain    = errors.New("domain is required")
	ErrInvalidTimestamp = errors.New("occurredAt must be a valid date")
)

// Authorization errors. Logged with their exact kind but collapsed to a
// generic forbidden response so registry contents don't leak.
var (
	ErrUnknownReporter    = errors.New("reporter not registered")
	ErrInactiveReporter   = errors.New("reporter is not active")
	ErrDomainNotPermitted = errors.New("domain not permitted for reporter")
	ErrOriginMismatch     = errors.New("domain does not match request origin")
)

// AuthError reports whether err belongs to the authorization taxonomy.
func AuthError(err error) bool {
	return errors.Is(err, ErrUnknownReporter) ||
		errors.Is(err, ErrInactiveReporter) ||
		errors.Is(err, ErrDomainNotPermitted) ||
		errors.Is(err, ErrOriginMismatch)
}

// BadInput reports whether err is a client input error.
func BadInput(err error) bool {
	return errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrMissingDomain) ||
		errors.Is(err, ErrInvalidTimestamp)
}
