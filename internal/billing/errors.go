package billing

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid billing input")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMissingMetadata  = errors.New("missing billing metadata")
	ErrNoSubscription   = errors.New("checkout session has no subscription")
	ErrPlatformRejected = errors.New("payment platform rejected request")

	// ErrPermanent marks failures that redelivery cannot fix.
	ErrPermanent = errors.New("permanent webhook failure")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{e.err, ErrPermanent} }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
