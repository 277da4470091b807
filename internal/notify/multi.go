package notify

import (
	"context"
	"errors"

	"github.com/varalys/fimwatch/internal/alert"
)

// Multi sends each message to every notifier in order and joins failures.
// A message counts as delivered only if every transport accepted it.
type Multi []alert.Notifier

func (m Multi) Notify(ctx context.Context, msg alert.Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
