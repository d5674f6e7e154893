package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/slackin/pkg/cache"
	"github.com/golang-jwt/jwt/v5"
)

// Authentication constants.
const (
	maxTokenLength     = 100 // Maximum expected length for GitHub tokens
	minTokenLength     = 40  // Minimum expected length for GitHub tokens
	classicTokenLength = 40  // Length of classic GitHub tokens
	maxAppID           = 999999999
	filePermReadOnly   = 0o400
	filePermOwnerRW    = 0o600
	jwtLifetime        = 10 * time.Minute // GitHub rejects app JWTs living longer
	jwtRefreshAfter    = 9 * time.Minute
	installTokenSlack  = 5 * time.Minute // forget installation tokens this long before they expire
)

// generateJWT generates a JWT token for GitHub App authentication.
func generateJWT(appID string, privateKey []byte, now time.Time) (string, error) {
	block, _ := pem.Decode(privateKey)
	if block == nil {
		return "", errors.New("failed to parse PEM block containing the private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsedKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		key, ok = parsedKey.(*rsa.PrivateKey)
		if !ok {
			return "", errors.New("private key is not RSA")
		}
	}

	claims := jwt.MapClaims{
		"iat": now.Add(-30 * time.Second).Unix(), // tolerate clock drift
		"exp": now.Add(jwtLifetime).Unix(),
		"iss": appID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// newAppAuthClient creates a GitHub client with App authentication.
func newAppAuthClient(cfg Config) (*Client, error) {
	if err := validateAppID(cfg.AppID); err != nil {
		return nil, err
	}

	privateKey, err := loadPrivateKey(cfg.AppKey, cfg.AppKeyPath)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	jwtToken, err := generateJWT(cfg.AppID, privateKey, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}
	slog.Info("Generated JWT for GitHub App", "component", "auth", "app_id", cfg.AppID)

	return &Client{
		token:           jwtToken,
		tokenExpiry:     now.Add(jwtRefreshAfter),
		isAppAuth:       true,
		appID:           cfg.AppID,
		privateKey:      privateKey,
		privateKeyPath:  cfg.AppKeyPath,
		installTokens:   cache.New[string](time.Hour),
		installationIDs: make(map[string]int64),
	}, nil
}

// newPersonalTokenClient creates a GitHub client with personal token authentication,
// asking the gh CLI when no token is configured.
func newPersonalTokenClient(ctx context.Context, token string) (*Client, error) {
	if token == "" {
		output, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to get GitHub token: %w", err)
		}
		token = strings.TrimSpace(string(output))
	}

	if err := validateToken(token); err != nil {
		return nil, err
	}

	slog.Info("Using personal access token authentication", "component", "auth")
	return &Client{token: token}, nil
}

// validateAppID validates the GitHub App ID.
func validateAppID(appID string) error {
	if appID == "" {
		return errors.New("GitHub App ID is required (GITHUB_APP_ID)")
	}
	appIDNum, err := strconv.Atoi(appID)
	if err != nil {
		return fmt.Errorf("GITHUB_APP_ID must be numeric: %w", err)
	}
	if appIDNum <= 0 || appIDNum > maxAppID {
		return errors.New("GITHUB_APP_ID out of valid range")
	}
	return nil
}

// loadPrivateKey loads the private key from content or file path.
func loadPrivateKey(content []byte, keyPath string) ([]byte, error) {
	var privateKey []byte
	switch {
	case len(content) > 0:
		privateKey = content
	case keyPath != "":
		var err error
		privateKey, err = readPrivateKeyFile(keyPath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("GitHub App private key is required (GITHUB_APP_KEY or GITHUB_APP_KEY_PATH)")
	}

	if !bytes.Contains(privateKey, []byte("BEGIN RSA PRIVATE KEY")) &&
		!bytes.Contains(privateKey, []byte("BEGIN PRIVATE KEY")) {
		return nil, errors.New("private key does not appear to be a valid PEM private key")
	}
	return privateKey, nil
}

// readPrivateKeyFile reads a private key file, refusing relative paths and loose permissions.
func readPrivateKeyFile(keyPath string) ([]byte, error) {
	cleanPath := filepath.Clean(keyPath)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("GITHUB_APP_KEY_PATH must be an absolute path")
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("cannot access private key file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, errors.New("GITHUB_APP_KEY_PATH must be a file, not a directory")
	}

	perm := fileInfo.Mode().Perm()
	if perm != filePermOwnerRW && perm != filePermReadOnly {
		return nil, fmt.Errorf("private key file has insecure permissions %04o (must be 0600 or 0400)", perm)
	}

	return os.ReadFile(cleanPath)
}

// validateToken validates a GitHub personal access token.
func validateToken(token string) error {
	if token == "" {
		return errors.New("no GitHub token found")
	}
	if len(token) > maxTokenLength || len(token) < minTokenLength {
		return errors.New("invalid token length")
	}

	for _, prefix := range []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_"} {
		if strings.HasPrefix(token, prefix) {
			return nil
		}
	}

	if len(token) != classicTokenLength {
		return errors.New("invalid token format")
	}
	for _, r := range token {
		if (r < 'a' || r > 'f') && (r < '0' || r > '9') {
			return errors.New("invalid classic token format")
		}
	}
	return nil
}

// appJWT returns a valid app JWT, regenerating it when close to expiry.
func (c *Client) appJWT() (string, error) {
	c.tokenMutex.RLock()
	if time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.tokenMutex.RUnlock()
		return token, nil
	}
	c.tokenMutex.RUnlock()

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	if time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	now := time.Now()
	newToken, err := generateJWT(c.appID, c.privateKey, now)
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT for refresh: %w", err)
	}
	c.token = newToken
	c.tokenExpiry = now.Add(jwtRefreshAfter)
	slog.Info("Refreshed GitHub App JWT", "component", "auth")
	return newToken, nil
}

// installationToken returns a cached or freshly minted installation token for owner.
func (c *Client) installationToken(ctx context.Context, owner string) (string, error) {
	if owner == "" {
		return "", errors.New("owner cannot be empty")
	}
	key := strings.ToLower(owner)
	if token, ok := c.installTokens.Get(key); ok {
		return token, nil
	}

	c.tokenMutex.RLock()
	installationID, ok := c.installationIDs[key]
	c.tokenMutex.RUnlock()
	if !ok {
		if _, err := c.ListAppInstallations(ctx); err != nil {
			return "", err
		}
		c.tokenMutex.RLock()
		installationID, ok = c.installationIDs[key]
		c.tokenMutex.RUnlock()
		if !ok {
			return "", fmt.Errorf("no installation found for %s (is the app installed?)", owner)
		}
	}

	jwtToken, err := c.appJWT()
	if err != nil {
		return "", err
	}

	slog.Info("Creating installation access token", "component", "auth", "owner", owner, "installation_id", installationID)
	apiURL := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get installation token: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return "", fmt.Errorf("failed to create installation token (status %d) and read error: %w", resp.StatusCode, err)
		}
		return "", fmt.Errorf("failed to create installation token (status %d): %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		ExpiresAt time.Time `json:"expires_at"`
		Token     string    `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", errors.New("received empty installation token")
	}

	ttl := time.Until(tokenResp.ExpiresAt) - installTokenSlack
	if ttl > 0 {
		c.installTokens.SetWithTTL(key, tokenResp.Token, ttl)
	}
	slog.Info("Created installation access token", "component", "auth", "owner", owner, "expires_at", tokenResp.ExpiresAt.Format(time.RFC3339))
	return tokenResp.Token, nil
}

// Installation represents a GitHub App installation.
type Installation struct {
	Account struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"account"`
	ID int64 `json:"id"`
}

// ListAppInstallations returns every account where this GitHub App is installed
// and remembers their installation ids.
func (c *Client) ListAppInstallations(ctx context.Context) ([]string, error) {
	if !c.isAppAuth {
		return nil, errors.New("app installations can only be listed with GitHub App authentication")
	}

	jwtToken, err := c.appJWT()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/app/installations?per_page=100", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get app installations: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list installations (status %d)", resp.StatusCode)
	}

	var installations []Installation
	if err := json.NewDecoder(resp.Body).Decode(&installations); err != nil {
		return nil, fmt.Errorf("failed to decode installations: %w", err)
	}

	owners := make([]string, 0, len(installations))
	c.tokenMutex.Lock()
	for _, in := range installations {
		owners = append(owners, in.Account.Login)
		c.installationIDs[strings.ToLower(in.Account.Login)] = in.ID
		slog.Info("Found installation", "component", "auth", "account", in.Account.Login, "type", in.Account.Type, "installation_id", in.ID)
	}
	c.tokenMutex.Unlock()

	return owners, nil
}
