package calendarsync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	calendar "google.golang.org/api/calendar/v3"

	"ripetizioni-cloud/store"
)

const primaryCalendar = "primary"

// Registrar opens and closes push notification channels against the
// tutor's primary calendar.
type Registrar struct {
	webhookURL string
	logger     *zap.SugaredLogger
}

func NewRegistrar(webhookURL string, logger *zap.SugaredLogger) *Registrar {
	return &Registrar{webhookURL: webhookURL, logger: logger}
}

// Enabled reports whether a public webhook address was configured. Without
// one, channels cannot be registered and sync falls back to manual runs.
func (r *Registrar) Enabled() bool {
	return r.webhookURL != ""
}

// Register opens a fresh push channel and returns its descriptor. The
// channel id is generated here; Google echoes it back on every
// notification so it doubles as the account lookup key.
func (r *Registrar) Register(ctx context.Context, service *calendar.Service) (*store.ChannelDescriptor, error) {
	if !r.Enabled() {
		return nil, fmt.Errorf("webhook url not configured")
	}

	channel := &calendar.Channel{
		Id:      uuid.New().String(),
		Type:    "web_hook",
		Address: r.webhookURL,
	}
	response, err := service.Events.Watch(primaryCalendar, channel).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("register push channel: %w", err)
	}

	descriptor := &store.ChannelDescriptor{
		ID:         response.Id,
		ResourceID: response.ResourceId,
		Expiration: response.Expiration,
	}
	r.logger.Infow("registered calendar push channel",
		"channel_id", descriptor.ID,
		"resource_id", descriptor.ResourceID,
		"expires_at", descriptor.ExpiresAt().Format(time.RFC3339))
	return descriptor, nil
}

// Stop closes a push channel. Failures are logged and swallowed: a channel
// that is already gone on Google's side is the desired end state.
func (r *Registrar) Stop(ctx context.Context, service *calendar.Service, descriptor *store.ChannelDescriptor) {
	if descriptor == nil {
		return
	}
	channel := &calendar.Channel{
		Id:         descriptor.ID,
		ResourceId: descriptor.ResourceID,
	}
	if err := service.Channels.Stop(channel).Context(ctx).Do(); err != nil {
		r.logger.Warnw("failed to stop push channel", "channel_id", descriptor.ID, "error", err)
		return
	}
	r.logger.Infow("stopped calendar push channel", "channel_id", descriptor.ID)
}
