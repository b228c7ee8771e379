package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ripetizioni-cloud/calendarsync"
	"ripetizioni-cloud/security"
	"ripetizioni-cloud/store"
)

// syncRunner triggers one reconciliation pass for an account.
type syncRunner interface {
	Enabled() bool
	SyncAccount(ctx context.Context, account *store.Account) (*calendarsync.Result, error)
}

// channelAccountSource lists accounts that hold a push channel.
type channelAccountSource interface {
	AccountSource
	AccountsWithChannel(ctx context.Context) ([]*store.Account, error)
}

// CalendarWebhookHandler is the sync trigger surface: Google push
// notifications on one side, authenticated manual syncs on the other.
type CalendarWebhookHandler struct {
	accounts channelAccountSource
	runner   syncRunner
	logger   *zap.SugaredLogger
}

func NewCalendarWebhookHandler(accounts channelAccountSource, runner syncRunner, logger *zap.SugaredLogger) *CalendarWebhookHandler {
	return &CalendarWebhookHandler{
		accounts: accounts,
		runner:   runner,
		logger:   logger,
	}
}

func (h *CalendarWebhookHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/calendar/webhook", h.handleNotification).Methods("POST")
	r.HandleFunc("/calendar/sync", RequireAccount(h.accounts, h.logger, h.handleManualSync)).Methods("POST")
}

// handleNotification processes Google push notifications. Responses carry
// no body and never expose internal error detail; Google only looks at the
// status code.
func (h *CalendarWebhookHandler) handleNotification(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-ID")
	resourceState := r.Header.Get("X-Goog-Resource-State")

	if channelID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !h.runner.Enabled() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	// Google sends one "sync" notification as a handshake when the channel
	// is created; acknowledge without doing anything.
	if resourceState == "sync" {
		h.logger.Infow("push channel handshake", "channel_id", channelID)
		w.WriteHeader(http.StatusOK)
		return
	}

	account, err := h.findAccountByChannel(r.Context(), channelID)
	if err != nil {
		h.logger.Errorw("channel lookup failed", "channel_id", channelID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if account == nil {
		h.logger.Warnw("notification for unknown channel", "channel_id", channelID)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// Sync failures are acknowledged with 200 anyway: Google retries the
	// notification and the next one rides a fresh reconciliation attempt.
	if _, err := h.runner.SyncAccount(r.Context(), account); err != nil {
		if errors.Is(err, calendarsync.ErrSyncInProgress) {
			h.logger.Debugw("sync already running", "account_id", account.ID)
		} else {
			h.logger.Errorw("webhook-triggered sync failed", "account_id", account.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *CalendarWebhookHandler) findAccountByChannel(ctx context.Context, channelID string) (*store.Account, error) {
	accounts, err := h.accounts.AccountsWithChannel(ctx)
	if err != nil {
		return nil, err
	}
	for _, account := range accounts {
		descriptor, ok := store.ParseChannelDescriptor(account.GoogleChannel)
		if !ok {
			continue
		}
		if descriptor.ID == channelID {
			return account, nil
		}
	}
	return nil, nil
}

func (h *CalendarWebhookHandler) handleManualSync(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())

	result, err := h.runner.SyncAccount(r.Context(), account)
	if err != nil {
		switch {
		case errors.Is(err, security.ErrNotConnected):
			http.Error(w, "google calendar not connected", http.StatusBadRequest)
		case errors.Is(err, calendarsync.ErrSyncInProgress):
			http.Error(w, "sync already in progress", http.StatusConflict)
		default:
			h.logger.Errorw("manual sync failed", "account_id", account.ID, "error", err)
			http.Error(w, "sync failed", http.StatusBadGateway)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}
