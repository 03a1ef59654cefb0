package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

const (
	secretsDirName  = ".secrets"
	tokenFileName   = "token.json"
	secretsFileName = "credentials.json"
)

// oauthClient builds an authenticated HTTP client from the cached token,
// running the installed-app auth-code flow when no valid token exists.
// GMAIL_TOKEN and GMAIL_SECRET environment variables seed the secrets dir so
// headless deployments never hit the interactive flow.
func oauthClient(ctx context.Context, secretsDir string) (*http.Client, error) {
	if secretsDir == "" {
		secretsDir = secretsDirName
	}
	if err := os.MkdirAll(secretsDir, 0o700); err != nil {
		return nil, fmt.Errorf("create secrets dir: %w", err)
	}

	tokenPath := filepath.Join(secretsDir, tokenFileName)
	secretsPath := filepath.Join(secretsDir, secretsFileName)

	if tok := os.Getenv("GMAIL_TOKEN"); tok != "" {
		if err := os.WriteFile(tokenPath, []byte(tok), 0o600); err != nil {
			return nil, fmt.Errorf("seed token file: %w", err)
		}
	}
	if sec := os.Getenv("GMAIL_SECRET"); sec != "" {
		if err := os.WriteFile(secretsPath, []byte(sec), 0o600); err != nil {
			return nil, fmt.Errorf("seed secrets file: %w", err)
		}
	}

	b, err := os.ReadFile(secretsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	conf, err := google.ConfigFromJSON(b, gmailapi.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}

	tok, err := tokenFromFile(tokenPath)
	if err != nil {
		tok, err = tokenFromWeb(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokenPath, tok); err != nil {
			return nil, err
		}
	}
	return conf.Client(ctx, tok), nil
}

func tokenFromWeb(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	authURL := conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser then type the "+
		"authorization code:\n%v\n", authURL)
	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return nil, fmt.Errorf("unable to read authorization code: %w", err)
	}
	tok, err := conf.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return tok, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to save oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
