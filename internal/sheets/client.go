// Package sheets appends attendance changes to a Google spreadsheet using a
// service account.
package sheets

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	scope     = "https://www.googleapis.com/auth/spreadsheets"
	grantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// tokens are refreshed this long before Google says they expire
	expiryMargin = time.Minute
)

// Config describes the spreadsheet and the service account writing to it.
type Config struct {
	SpreadsheetID string
	ClientEmail   string
	PrivateKeyPEM string
	Range         string
	TokenURL      string
	BaseURL       string
}

// Client calls the Sheets values API.
type Client struct {
	cfg  Config
	key  *rsa.PrivateKey
	HTTP *http.Client

	now func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// New creates a client; the private key must be a PEM encoded RSA key.
func New(cfg Config) (*Client, error) {
	if cfg.SpreadsheetID == "" || cfg.ClientEmail == "" {
		return nil, errors.New("sheets: spreadsheet id and client email required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("sheets: parse private key: %w", err)
	}
	if cfg.Range == "" {
		cfg.Range = "A1"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sheets.googleapis.com"
	}
	return &Client{
		cfg:  cfg,
		key:  key,
		HTTP: &http.Client{Timeout: 15 * time.Second},
		now:  time.Now,
	}, nil
}

// Append adds one row after the last row of the configured range.
func (c *Client) Append(ctx context.Context, values []any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{"values": [][]any{values}})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.SpreadsheetID), url.PathEscape(c.cfg.Range))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("sheets: append request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized {
			c.forgetToken()
		}
		return fmt.Errorf("sheets: append failed %s: %s", resp.Status, string(b))
	}
	return nil
}

// accessToken returns a cached token or exchanges a fresh signed assertion.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.expiry) {
		return c.token, nil
	}

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   c.cfg.ClientEmail,
		"scope": scope,
		"aud":   c.cfg.TokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sheets: sign assertion: %w", err)
	}

	form := url.Values{"grant_type": {grantType}, "assertion": {assertion}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("sheets: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("sheets: token exchange failed %s: %s", resp.Status, string(b))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("sheets: decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("sheets: empty access token")
	}
	if out.ExpiresIn <= 0 {
		out.ExpiresIn = 3600
	}

	c.token = out.AccessToken
	c.expiry = now.Add(time.Duration(out.ExpiresIn)*time.Second - expiryMargin)
	return c.token, nil
}

func (c *Client) forgetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
