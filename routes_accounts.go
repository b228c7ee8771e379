package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ripetizioni-cloud/store"
)

type contextKey string

const accountContextKey contextKey = "account"

// AccountSource resolves API tokens to accounts.
type AccountSource interface {
	AccountByToken(ctx context.Context, token string) (*store.Account, error)
}

// AccountCreator provisions new accounts.
type AccountCreator interface {
	CreateAccount(ctx context.Context, email string) (*store.Account, error)
}

// AccountsHandler provisions tutor accounts and owns the token middleware
// every authenticated surface sits behind.
type AccountsHandler struct {
	accounts interface {
		AccountSource
		AccountCreator
	}
	logger *zap.SugaredLogger
}

func NewAccountsHandler(accounts interface {
	AccountSource
	AccountCreator
}, logger *zap.SugaredLogger) *AccountsHandler {
	return &AccountsHandler{accounts: accounts, logger: logger}
}

func (h *AccountsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/accounts", h.handleCreateAccount).Methods("POST")
}

type createAccountRequest struct {
	Email string `json:"email"`
}

type createAccountResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	APIToken string `json:"api_token"`
}

func (h *AccountsHandler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.CreateAccount(r.Context(), req.Email)
	if err != nil {
		h.logger.Errorw("failed to create account", "email", req.Email, "error", err)
		http.Error(w, "failed to create account", http.StatusInternalServerError)
		return
	}

	h.logger.Infow("account created", "account_id", account.ID, "email", account.Email)
	writeJSON(w, http.StatusCreated, createAccountResponse{
		ID:       account.ID,
		Email:    account.Email,
		APIToken: account.APIToken,
	})
}

// RequireAccount wraps a handler with API token authentication. The token
// comes from the Authorization Bearer header, with a token query parameter
// fallback for shortcut automations that cannot set headers.
func RequireAccount(accounts AccountSource, logger *zap.SugaredLogger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "missing api token", http.StatusUnauthorized)
			return
		}

		account, err := accounts.AccountByToken(r.Context(), token)
		if err != nil {
			logger.Errorw("token lookup failed", "error", err)
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		if account == nil {
			http.Error(w, "invalid api token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), accountContextKey, account)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func accountFromContext(ctx context.Context) *store.Account {
	account, _ := ctx.Value(accountContextKey).(*store.Account)
	return account
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
