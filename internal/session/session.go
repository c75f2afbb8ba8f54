// Package session holds the signed-in identity and the OAuth2 plumbing that
// produces authenticated HTTP clients for the cloud collaborators.
//
// The session is an explicit value passed into every component that needs
// it; no package-level current-user state exists.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// Session identifies the signed-in user. A nil *Session means no identity:
// cloud writes are blocked and the app runs local-only.
type Session struct {
	UserID string
	Email  string

	token  *oauth2.Token
	config *oauth2.Config
}

// NewStatic builds a Session around a fixed access token supplied out of
// band, bypassing the client secret flow.
func NewStatic(userID, email, accessToken string) *Session {
	return &Session{
		UserID: userID,
		Email:  email,
		token:  &oauth2.Token{AccessToken: accessToken},
	}
}

// Token returns the bearer credential for collaborators that take one
// directly.
func (s *Session) Token() string {
	return s.token.AccessToken
}

// HTTPClient returns an authenticated client that refreshes the token as
// needed.
func (s *Session) HTTPClient(ctx context.Context) *http.Client {
	return s.config.Client(ctx, s.token)
}

// New builds a Session from a client secret file and a previously saved
// token file.
func New(secretPath, tokenPath, userID string) (*Session, error) {
	secret, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(secret, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}

	token, err := TokenFromFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("loading token: %w (authenticate first)", err)
	}

	return &Session{
		UserID: userID,
		token:  token,
		config: config,
	}, nil
}

// TokenFromFile retrieves a token from a local file.
func TokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return nil
}
