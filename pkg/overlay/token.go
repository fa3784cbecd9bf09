package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AccessToken is the token endpoint's reply.
type AccessToken struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TokenExchanger trades a one-time authorization code for an access token.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (AccessToken, error)
}

// TokenExchangerFunc adapts a function to TokenExchanger.
type TokenExchangerFunc func(ctx context.Context, code string) (AccessToken, error)

func (f TokenExchangerFunc) Exchange(ctx context.Context, code string) (AccessToken, error) {
	return f(ctx, code)
}

// HTTPTokenExchanger posts the code to an OAuth2 token endpoint.
type HTTPTokenExchanger struct {
	URL      string
	ClientID string
	Client   *http.Client
}

// Exchange posts an authorization_code grant and returns the issued token.
func (e *HTTPTokenExchanger) Exchange(ctx context.Context, code string) (AccessToken, error) {
	body, err := json.Marshal(map[string]string{
		"code":       code,
		"grant_type": "authorization_code",
		"client_id":  e.ClientID,
	})
	if err != nil {
		return AccessToken{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return AccessToken{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return AccessToken{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return AccessToken{}, fmt.Errorf("token endpoint status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}

	var token AccessToken
	if err := json.Unmarshal(payload, &token); err != nil {
		return AccessToken{}, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return AccessToken{}, errors.New("token response has no access_token")
	}
	return token, nil
}
