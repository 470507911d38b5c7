package gmail

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

const authState = "oantfy"

// LoadOAuthConfig reads an OAuth client secret file downloaded from the Google
// Cloud console and requests read-only Gmail access.
func LoadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(b, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", credentialsFile, err)
	}
	return cfg, nil
}

func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open token file %s: %w", path, err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token file %s: %w", path, err)
	}
	return tok, nil
}

func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create token file %s: %w", path, err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("failed to write token file %s: %w", path, err)
	}
	return nil
}

// TokenSource returns a token source seeded from tokenFile that writes
// refreshed tokens back to the same file.
func TokenSource(ctx context.Context, cfg *oauth2.Config, tokenFile string, logger zerolog.Logger) (oauth2.TokenSource, error) {
	tok, err := LoadToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w (run with -mode authorize first)", err)
	}
	return &persistingTokenSource{
		src:    cfg.TokenSource(ctx, tok),
		path:   tokenFile,
		last:   tok.AccessToken,
		logger: logger.With().Str("component", "gmail_auth").Logger(),
	}, nil
}

type persistingTokenSource struct {
	mu     sync.Mutex
	src    oauth2.TokenSource
	path   string
	last   string
	logger zerolog.Logger
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist refreshed token")
		} else {
			s.logger.Debug().Str("path", s.path).Msg("refreshed token saved")
		}
	}
	return tok, nil
}

// Authorize runs the interactive consent flow: it prints the consent URL to
// out, reads the authorization code (or the full redirect URL) from in, and
// saves the resulting token to tokenFile.
func Authorize(ctx context.Context, cfg *oauth2.Config, tokenFile string, in io.Reader, out io.Writer) error {
	authURL := cfg.AuthCodeURL(authState, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Fprintln(out, "Open the following URL in a browser and grant access:")
	fmt.Fprintf(out, "\n%s\n\n", authURL)
	fmt.Fprint(out, "Paste the authorization code or the redirected URL: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	code, err := parseAuthCode(line)
	if err != nil {
		return err
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := SaveToken(tokenFile, tok); err != nil {
		return err
	}

	fmt.Fprintf(out, "Token saved to %s\n", tokenFile)
	return nil
}

func parseAuthCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("authorization code is empty")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	if state := u.Query().Get("state"); state != "" && state != authState {
		return "", fmt.Errorf("unexpected OAuth state %q", state)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect URL has no code parameter")
	}
	return code, nil
}
