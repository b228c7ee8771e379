package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ripetizioni-cloud/store"
)

// channelRenewer performs the remote half of a renewal.
type channelRenewer interface {
	RegisterChannel(ctx context.Context, account *store.Account) (*store.ChannelDescriptor, error)
	StopChannel(ctx context.Context, account *store.Account)
}

// renewalStore is the account persistence the renewer needs.
type renewalStore interface {
	AccountsWithChannel(ctx context.Context) ([]*store.Account, error)
	SaveGoogleChannel(ctx context.Context, accountID int64, channel *string) error
}

// WebhookRenewer keeps push channels alive: a periodic scan renews every
// channel expiring within the threshold. Renewal stops the old channel
// first (best-effort, it would expire on its own anyway) and then registers
// the replacement, persisting the new descriptor in one write.
type WebhookRenewer struct {
	accounts  renewalStore
	channels  channelRenewer
	interval  time.Duration
	threshold time.Duration
	enabled   bool
	logger    *zap.SugaredLogger
}

func NewWebhookRenewer(accounts renewalStore, channels channelRenewer, interval, threshold time.Duration, enabled bool, logger *zap.SugaredLogger) *WebhookRenewer {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if threshold <= 0 {
		threshold = 24 * time.Hour
	}
	return &WebhookRenewer{
		accounts:  accounts,
		channels:  channels,
		interval:  interval,
		threshold: threshold,
		enabled:   enabled,
		logger:    logger,
	}
}

func (r *WebhookRenewer) Start(ctx context.Context) {
	if !r.enabled {
		r.logger.Info("calendar webhook renewal disabled")
		return
	}
	go r.loop(ctx)
}

func (r *WebhookRenewer) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.ScanOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce renews every account whose channel expires within the
// threshold. One account's failure never stops the scan.
func (r *WebhookRenewer) ScanOnce(ctx context.Context) {
	accounts, err := r.accounts.AccountsWithChannel(ctx)
	if err != nil {
		r.logger.Errorw("renewal scan failed to list accounts", "error", err)
		return
	}
	for _, account := range accounts {
		r.renewAccount(ctx, account)
	}
}

func (r *WebhookRenewer) renewAccount(ctx context.Context, account *store.Account) {
	descriptor, ok := store.ParseChannelDescriptor(account.GoogleChannel)
	if !ok {
		r.logger.Warnw("skipping account with unreadable channel descriptor", "account_id", account.ID)
		return
	}
	if time.Until(descriptor.ExpiresAt()) > r.threshold {
		return
	}

	r.logger.Infow("renewing push channel",
		"account_id", account.ID,
		"channel_id", descriptor.ID,
		"expires_at", descriptor.ExpiresAt().Format(time.RFC3339))

	r.channels.StopChannel(ctx, account)

	replacement, err := r.channels.RegisterChannel(ctx, account)
	if err != nil {
		r.logger.Errorw("failed to register replacement channel", "account_id", account.ID, "error", err)
		return
	}
	encoded, err := replacement.Encode()
	if err != nil {
		r.logger.Errorw("failed to encode replacement descriptor", "account_id", account.ID, "error", err)
		return
	}
	if err := r.accounts.SaveGoogleChannel(ctx, account.ID, &encoded); err != nil {
		r.logger.Errorw("failed to persist replacement descriptor", "account_id", account.ID, "error", err)
		return
	}
	r.logger.Infow("push channel renewed", "account_id", account.ID, "channel_id", replacement.ID)
}
