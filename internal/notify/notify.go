package notify

import (
	"context"

	"go.uber.org/multierr"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Channel delivers a rendered notification over one transport.
type Channel interface {
	Send(ctx context.Context, n domain.Notification) error
}

// Multi fans out to every channel and returns all failures combined.
type Multi []Channel

func (m Multi) Send(ctx context.Context, n domain.Notification) error {
	var err error
	for _, c := range m {
		if c == nil {
			continue
		}
		err = multierr.Append(err, c.Send(ctx, n))
	}
	return err
}
