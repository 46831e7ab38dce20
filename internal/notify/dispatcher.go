package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// DeliveryResult reports one notification attempt. Err is only ever logged;
// it never changes the verdict that produced the notification.
type DeliveryResult struct {
	Notification domain.Notification
	Sent         bool
	Skipped      bool
	Err          error
}

// Dispatcher renders verdicts and delivers them once over Channel. Ticket
// notifications go to TicketRecipients when set, otherwise to SiteRecipients.
type Dispatcher struct {
	Logger           *zap.Logger
	Channel          Channel
	SiteRecipients   []string
	TicketRecipients []string
}

func NewDispatcher(logger *zap.Logger, ch Channel, site, ticket []string) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{Logger: logger, Channel: ch, SiteRecipients: site, TicketRecipients: ticket}
}

func (d *Dispatcher) Notify(ctx context.Context, v domain.Verdict, t domain.Target) DeliveryResult {
	subject, body, ok := Render(v, t)
	if !ok {
		return DeliveryResult{Skipped: true}
	}
	ch := domain.ChannelSite
	if v.Primary().Kind == domain.CountChanged {
		ch = domain.ChannelTicket
	}
	return d.deliver(ctx, t, domain.Notification{Subject: subject, Body: body, Channel: ch})
}

func (d *Dispatcher) NotifyRecovery(ctx context.Context, t domain.Target, previous string) DeliveryResult {
	subject, body := RenderRecovery(t, previous)
	return d.deliver(ctx, t, domain.Notification{Subject: subject, Body: body, Channel: domain.ChannelSite})
}

func (d *Dispatcher) recipients(ch domain.Channel) []string {
	if ch == domain.ChannelTicket && len(d.TicketRecipients) > 0 {
		return d.TicketRecipients
	}
	return d.SiteRecipients
}

func (d *Dispatcher) deliver(ctx context.Context, t domain.Target, n domain.Notification) DeliveryResult {
	n.Recipients = append([]string(nil), d.recipients(n.Channel)...)
	res := DeliveryResult{Notification: n}

	if d.Channel == nil {
		d.Logger.Warn("notify_no_channel",
			zap.String("target_id", string(t.ID)),
			zap.String("subject", n.Subject),
		)
		res.Skipped = true
		return res
	}

	if err := d.Channel.Send(ctx, n); err != nil {
		res.Err = err
		d.Logger.Error("notify_failed",
			zap.String("target_id", string(t.ID)),
			zap.String("subject", n.Subject),
			zap.Strings("recipients", n.Recipients),
			zap.Error(err),
		)
		return res
	}

	res.Sent = true
	d.Logger.Info("notify_sent",
		zap.String("target_id", string(t.ID)),
		zap.String("subject", n.Subject),
		zap.String("channel", string(n.Channel)),
		zap.Int("recipients", len(n.Recipients)),
	)
	return res
}
