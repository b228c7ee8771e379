package security

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"ripetizioni-cloud/store"
)

// ErrNotConnected means the account has no usable calendar credentials:
// never authorized, disconnected, or an unreadable stored blob.
var ErrNotConnected = fmt.Errorf("google calendar not connected")

var calendarScopes = []string{calendar.CalendarEventsScope}

// CredentialSaver persists the (re-)encrypted token blob for an account.
type CredentialSaver interface {
	SaveGoogleCredentials(ctx context.Context, accountID int64, blob string) error
}

// GoogleClient manages the OAuth flow and turns stored account credentials
// into authenticated Calendar services.
type GoogleClient struct {
	config   *oauth2.Config
	cipher   *Cipher
	states   *StateStore
	accounts CredentialSaver
	logger   *zap.SugaredLogger
}

func NewGoogleClient(clientID, clientSecret, redirectURL string, cipher *Cipher, states *StateStore, accounts CredentialSaver, logger *zap.SugaredLogger) *GoogleClient {
	var config *oauth2.Config
	if clientID != "" && clientSecret != "" {
		config = &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       calendarScopes,
			Endpoint:     google.Endpoint,
		}
	}
	return &GoogleClient{
		config:   config,
		cipher:   cipher,
		states:   states,
		accounts: accounts,
		logger:   logger,
	}
}

// Enabled reports whether OAuth client credentials were configured at all.
func (g *GoogleClient) Enabled() bool {
	return g.config != nil
}

// AuthURL starts an authorization attempt for the account and returns the
// consent URL to redirect the user to.
func (g *GoogleClient) AuthURL(ctx context.Context, accountID int64) (string, error) {
	if !g.Enabled() {
		return "", fmt.Errorf("calendar oauth not configured")
	}
	state, err := g.states.Create(ctx, accountID)
	if err != nil {
		return "", err
	}
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange consumes the callback state, trades the code for a token, and
// stores the encrypted token blob on the resolved account.
func (g *GoogleClient) Exchange(ctx context.Context, state, code string) (int64, error) {
	if !g.Enabled() {
		return 0, fmt.Errorf("calendar oauth not configured")
	}
	accountID, err := g.states.Consume(ctx, state)
	if err != nil {
		return 0, err
	}

	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("exchange code for token: %w", err)
	}

	if err := g.saveToken(ctx, accountID, token); err != nil {
		return 0, err
	}
	g.logger.Infow("google calendar connected", "account_id", accountID)
	return accountID, nil
}

// CalendarServiceForAccount builds an authenticated Calendar service from
// the account's stored credentials, refreshing and re-persisting the token
// when the access token has rotated.
func (g *GoogleClient) CalendarServiceForAccount(ctx context.Context, account *store.Account) (*calendar.Service, error) {
	if !g.Enabled() {
		return nil, fmt.Errorf("calendar oauth not configured")
	}
	token, ok := g.loadToken(account)
	if !ok {
		return nil, ErrNotConnected
	}

	fresh, err := g.config.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for account %d: %w", account.ID, err)
	}
	if fresh.AccessToken != token.AccessToken {
		if err := g.saveToken(ctx, account.ID, fresh); err != nil {
			g.logger.Warnw("failed to persist refreshed token", "account_id", account.ID, "error", err)
		}
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(g.config.Client(ctx, fresh)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return service, nil
}

// Connected reports whether the account holds a readable credential blob.
func (g *GoogleClient) Connected(account *store.Account) bool {
	_, ok := g.loadToken(account)
	return ok
}

func (g *GoogleClient) loadToken(account *store.Account) (*oauth2.Token, bool) {
	if account == nil || account.GoogleCredentials == nil {
		return nil, false
	}
	plain, ok := g.cipher.Decrypt(*account.GoogleCredentials)
	if !ok {
		// Unreadable blob behaves as not connected so the account is not
		// permanently wedged by one bad write.
		return nil, false
	}
	var token oauth2.Token
	if err := json.Unmarshal(plain, &token); err != nil {
		return nil, false
	}
	return &token, true
}

func (g *GoogleClient) saveToken(ctx context.Context, accountID int64, token *oauth2.Token) error {
	plain, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	blob, err := g.cipher.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}
	if err := g.accounts.SaveGoogleCredentials(ctx, accountID, blob); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}
