package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ripetizioni-cloud/calendarsync"
	"ripetizioni-cloud/security"
	"ripetizioni-cloud/store"
)

// CalendarGateway bundles every calendar-touching operation behind one
// account-scoped surface. Handlers depend on the narrow slices of it they
// need, so tests can stub those without a real calendar service.
type CalendarGateway struct {
	google    *security.GoogleClient
	registrar *calendarsync.Registrar
	mirror    *calendarsync.Mirror
	sync      *calendarsync.SyncService
	logger    *zap.SugaredLogger
}

func NewCalendarGateway(google *security.GoogleClient, registrar *calendarsync.Registrar, mirror *calendarsync.Mirror, sync *calendarsync.SyncService, logger *zap.SugaredLogger) *CalendarGateway {
	return &CalendarGateway{
		google:    google,
		registrar: registrar,
		mirror:    mirror,
		sync:      sync,
		logger:    logger,
	}
}

// Enabled reports whether the OAuth client is configured at all; without
// it every calendar surface answers "integration disabled".
func (g *CalendarGateway) Enabled() bool {
	return g.google.Enabled()
}

// Connected reports whether the account holds usable credentials.
func (g *CalendarGateway) Connected(account *store.Account) bool {
	return g.google.Connected(account)
}

// SyncAccount runs one full reconciliation pass for the account.
func (g *CalendarGateway) SyncAccount(ctx context.Context, account *store.Account) (*calendarsync.Result, error) {
	service, err := g.google.CalendarServiceForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	return g.sync.Sync(ctx, account.ID, calendarsync.NewCalendarEvents(service))
}

// RegisterChannel opens a push channel for the account's calendar and
// returns its descriptor. Callers persist it.
func (g *CalendarGateway) RegisterChannel(ctx context.Context, account *store.Account) (*store.ChannelDescriptor, error) {
	if !g.registrar.Enabled() {
		return nil, fmt.Errorf("webhook url not configured")
	}
	service, err := g.google.CalendarServiceForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	return g.registrar.Register(ctx, service)
}

// StopChannel closes the account's push channel, best-effort.
func (g *CalendarGateway) StopChannel(ctx context.Context, account *store.Account) {
	descriptor, ok := store.ParseChannelDescriptor(account.GoogleChannel)
	if !ok {
		return
	}
	service, err := g.google.CalendarServiceForAccount(ctx, account)
	if err != nil {
		g.logger.Warnw("cannot stop push channel without calendar access", "account_id", account.ID, "error", err)
		return
	}
	g.registrar.Stop(ctx, service, descriptor)
}

// MirrorCreate writes a lesson event to the account's calendar and returns
// the event id.
func (g *CalendarGateway) MirrorCreate(ctx context.Context, account *store.Account, studentName string, start, end time.Time) (string, error) {
	service, err := g.google.CalendarServiceForAccount(ctx, account)
	if err != nil {
		return "", err
	}
	return g.mirror.CreateEvent(ctx, service, studentName, start, end)
}

// MirrorUpdate rewrites a linked lesson's event after a local edit.
func (g *CalendarGateway) MirrorUpdate(ctx context.Context, account *store.Account, eventID, studentName string, start, end time.Time) error {
	service, err := g.google.CalendarServiceForAccount(ctx, account)
	if err != nil {
		return err
	}
	return g.mirror.UpdateEvent(ctx, service, eventID, studentName, start, end)
}

// MirrorDelete removes a linked lesson's event.
func (g *CalendarGateway) MirrorDelete(ctx context.Context, account *store.Account, eventID string) error {
	service, err := g.google.CalendarServiceForAccount(ctx, account)
	if err != nil {
		return err
	}
	return g.mirror.DeleteEvent(ctx, service, eventID)
}
