package sink

import (
	"context"
	"errors"

	"i4.energy/across/smsrx/modem"
)

// Multi hands every message to each sink in order. A failing sink does
// not stop the others; all errors are joined.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, msg *modem.Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
