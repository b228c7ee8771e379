package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ripetizioni-cloud/security"
	"ripetizioni-cloud/store"
)

// authFlow is the OAuth slice of the security client the handler needs.
type authFlow interface {
	Enabled() bool
	AuthURL(ctx context.Context, accountID int64) (string, error)
	Exchange(ctx context.Context, state, code string) (int64, error)
}

// channelManager covers channel provisioning on connect/disconnect.
type channelManager interface {
	RegisterChannel(ctx context.Context, account *store.Account) (*store.ChannelDescriptor, error)
	StopChannel(ctx context.Context, account *store.Account)
}

// integrationStore is the account persistence the auth flow touches.
type integrationStore interface {
	AccountSource
	AccountByID(ctx context.Context, id int64) (*store.Account, error)
	SaveGoogleChannel(ctx context.Context, accountID int64, channel *string) error
	ClearGoogleIntegration(ctx context.Context, accountID int64) error
}

// GoogleAuthHandler runs the calendar connect/disconnect flow.
type GoogleAuthHandler struct {
	auth     authFlow
	channels channelManager
	accounts integrationStore
	logger   *zap.SugaredLogger
}

func NewGoogleAuthHandler(auth authFlow, channels channelManager, accounts integrationStore, logger *zap.SugaredLogger) *GoogleAuthHandler {
	return &GoogleAuthHandler{
		auth:     auth,
		channels: channels,
		accounts: accounts,
		logger:   logger,
	}
}

func (h *GoogleAuthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/auth/google/connect", RequireAccount(h.accounts, h.logger, h.handleConnect)).Methods("GET")
	r.HandleFunc("/auth/google/callback", h.handleCallback).Methods("GET")
	r.HandleFunc("/auth/google/disconnect", RequireAccount(h.accounts, h.logger, h.handleDisconnect)).Methods("POST")
}

func (h *GoogleAuthHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Enabled() {
		http.Error(w, "google calendar integration is not configured", http.StatusServiceUnavailable)
		return
	}
	account := accountFromContext(r.Context())

	url, err := h.auth.AuthURL(r.Context(), account.ID)
	if err != nil {
		h.logger.Errorw("failed to build auth url", "account_id", account.ID, "error", err)
		http.Error(w, "failed to start authorization", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": url})
}

func (h *GoogleAuthHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		http.Error(w, "missing state or code", http.StatusBadRequest)
		return
	}

	accountID, err := h.auth.Exchange(r.Context(), state, code)
	if err != nil {
		if errors.Is(err, security.ErrStateNotFound) {
			http.Error(w, "authorization attempt expired, retry connect", http.StatusBadRequest)
			return
		}
		h.logger.Errorw("oauth exchange failed", "error", err)
		http.Error(w, "authorization failed", http.StatusBadGateway)
		return
	}

	// Open the push channel right away so webhook sync starts without
	// waiting for the renewal scan. Failure leaves the account connected;
	// manual sync still works and the scan retries registration.
	channelRegistered := h.registerChannel(r.Context(), accountID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "connected",
		"account_id":         accountID,
		"channel_registered": channelRegistered,
	})
}

func (h *GoogleAuthHandler) registerChannel(ctx context.Context, accountID int64) bool {
	account, err := h.accounts.AccountByID(ctx, accountID)
	if err != nil || account == nil {
		h.logger.Errorw("failed to reload account after connect", "account_id", accountID, "error", err)
		return false
	}

	descriptor, err := h.channels.RegisterChannel(ctx, account)
	if err != nil {
		h.logger.Warnw("failed to register push channel on connect", "account_id", accountID, "error", err)
		return false
	}
	encoded, err := descriptor.Encode()
	if err != nil {
		h.logger.Errorw("failed to encode channel descriptor", "account_id", accountID, "error", err)
		return false
	}
	if err := h.accounts.SaveGoogleChannel(ctx, accountID, &encoded); err != nil {
		h.logger.Errorw("failed to persist channel descriptor", "account_id", accountID, "error", err)
		return false
	}
	return true
}

func (h *GoogleAuthHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())

	// Remote stop is best-effort; an orphaned channel expires on its own.
	// Local state is always cleared.
	h.channels.StopChannel(r.Context(), account)

	if err := h.accounts.ClearGoogleIntegration(r.Context(), account.ID); err != nil {
		h.logger.Errorw("failed to clear integration", "account_id", account.ID, "error", err)
		http.Error(w, "failed to disconnect", http.StatusInternalServerError)
		return
	}

	h.logger.Infow("google calendar disconnected", "account_id", account.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
