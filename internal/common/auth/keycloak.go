// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"grant-workers/internal/common/errors"
	commonhttp "grant-workers/internal/common/http"
)

// KeycloakClient reads users and group membership through the Keycloak admin API
// using a service account (client credentials flow).
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *commonhttp.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// User represents a user in Keycloak.
type User struct {
	ID         string              `json:"id,omitempty"`
	Email      string              `json:"email"`
	FirstName  string              `json:"firstName"`
	LastName   string              `json:"lastName"`
	Username   string              `json:"username"`
	Enabled    bool                `json:"enabled"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Attribute returns the first value of a custom user attribute.
func (u *User) Attribute(name string) string {
	if vals := u.Attributes[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Group is a Keycloak group a user belongs to.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// TokenResponse holds the response from Keycloak's token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// NewKeycloakClient creates a new instance of KeycloakClient.
func NewKeycloakClient(baseURL, realm, clientID, clientSecret string) *KeycloakClient {
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   commonhttp.NewClient(30 * time.Second),
	}
}

// token returns a cached service-account token, refreshing it 30s before expiry.
func (k *KeycloakClient) token(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.accessToken != "" && time.Now().Add(30*time.Second).Before(k.tokenExpiry) {
		return k.accessToken, nil
	}

	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", errors.NewExternalServiceError("keycloak", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", errors.NewAuthenticationError(
			fmt.Sprintf("keycloak token request failed with status %d: %s", resp.StatusCode, string(body)))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	k.accessToken = tokenResp.AccessToken
	k.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return k.accessToken, nil
}

// getJSON performs an authenticated admin GET and decodes the body into out.
func (k *KeycloakClient) getJSON(ctx context.Context, path string, out interface{}) error {
	token, err := k.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/admin/realms/%s%s", k.baseURL, k.realm, path), nil)
	if err != nil {
		return fmt.Errorf("failed to create keycloak request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := k.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return errors.NewExternalServiceError("keycloak", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.NewResourceNotFoundError("keycloak", path)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
		if isTransientHTTPError(resp.StatusCode) {
			return errors.NewExternalServiceError("keycloak", err)
		}
		return errors.NewAuthenticationError(err.Error())
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode keycloak response: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their unique ID.
func (k *KeycloakClient) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := k.getJSON(ctx, "/users/"+url.PathEscape(userID), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserGroups lists the groups userID is a direct member of.
func (k *KeycloakClient) GetUserGroups(ctx context.Context, userID string) ([]Group, error) {
	var groups []Group
	if err := k.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/groups", &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func isTransientHTTPError(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout ||
		statusCode >= 500
}
