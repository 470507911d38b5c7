package notify

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported notification format")
	ErrDelivery          = errors.New("notification delivery failed")
)

// DeliveryError describes a failed POST to ntfy. StatusCode is zero when the
// request never got a response.
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: status=%d body=%s", ErrDelivery, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%v: %v", ErrDelivery, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDelivery, e.Err}
	}
	return []error{ErrDelivery}
}
