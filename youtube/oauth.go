package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	ytapi "google.golang.org/api/youtube/v3"

	"ytrelay/storage"
)

// Scopes requested when a user authorises uploads.
var Scopes = []string{ytapi.YoutubeUploadScope, ytapi.YoutubeReadonlyScope}

// OAuthConfig builds the Google OAuth client configuration.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// AuthURL returns the consent page URL. Offline access with a forced
// prompt guarantees that a refresh token is issued.
func AuthURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorisation code for tokens and stores them for
// userID.
func Exchange(ctx context.Context, cfg *oauth2.Config, store storage.TokenStore, userID, code string) (*storage.Credentials, error) {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("youtube: exchange code: %w", err)
	}
	creds := credentialsFromToken(userID, tok, "")
	if err := store.PutTokens(ctx, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// persistingTokenSource refreshes through the OAuth config and writes
// every new access token back to the store.
type persistingTokenSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	store  storage.TokenStore
	userID string

	mu      sync.Mutex
	last    string
	refresh string
}

// NewTokenSource loads the stored credentials of userID and returns a
// token source that refreshes them as needed. Refreshed tokens are
// persisted so that the next job and the automation loop observe them.
func NewTokenSource(ctx context.Context, cfg *oauth2.Config, store storage.TokenStore, userID string) (oauth2.TokenSource, error) {
	creds, err := store.GetTokens(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, err
	}
	if creds.RefreshToken == "" && creds.AccessToken == "" {
		return nil, ErrNotAuthorized
	}

	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
		TokenType:    "Bearer",
	}
	return &persistingTokenSource{
		ctx:     ctx,
		base:    cfg.TokenSource(ctx, tok),
		store:   store,
		userID:  userID,
		last:    creds.AccessToken,
		refresh: creds.RefreshToken,
	}, nil
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("youtube: refresh token for %s: %w", s.userID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		creds := credentialsFromToken(s.userID, tok, s.refresh)
		if err := s.store.PutTokens(s.ctx, creds); err != nil {
			log.WithField("user", s.userID).Warnf("youtube: persist refreshed token: %v", err)
		} else {
			log.WithField("user", s.userID).Debugln("youtube: stored refreshed access token")
		}
		s.last = tok.AccessToken
		s.refresh = creds.RefreshToken
	}
	return tok, nil
}

// credentialsFromToken keeps the previous refresh token when the
// provider omits it on refresh.
func credentialsFromToken(userID string, tok *oauth2.Token, prevRefresh string) *storage.Credentials {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = prevRefresh
	}
	return &storage.Credentials{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		Expiry:       tok.Expiry,
	}
}

// ClientFactory builds authorised HTTP clients for a user from the
// stored credentials. Credentials are read from the store on every call.
type ClientFactory struct {
	Config *oauth2.Config
	Store  storage.TokenStore
	// Base is the transport-level client the OAuth client wraps, if set.
	Base *http.Client
}

// Client returns an HTTP client that authenticates as userID.
func (f *ClientFactory) Client(ctx context.Context, userID string) (*http.Client, error) {
	if f.Base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.Base)
	}
	ts, err := NewTokenSource(ctx, f.Config, f.Store, userID)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, ts), nil
}
