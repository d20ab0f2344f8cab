package fractalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/PeladoCollado/fractalload/types"
)

var (
	ErrMFAUnsupported = errors.New("multi-factor challenge is not supported by the harness")
	ErrMissingToken   = errors.New("login response did not contain an idToken")
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	IDToken       string `json:"idToken"`
	ChallengeName string `json:"challengeName"`
	Session       string `json:"session"`
}

// Login performs exactly one authentication exchange for the credential.
func (c *Client) Login(ctx context.Context, credential types.UserCredential) (types.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()

	payload, err := json.Marshal(loginRequest{Username: credential.Username, Password: credential.Password})
	if err != nil {
		return types.Session{}, fmt.Errorf("encode login request: %w", err)
	}
	request, err := c.newRequest(ctx, http.MethodPost, c.endpoint("/auth/login", nil), payload)
	if err != nil {
		return types.Session{}, fmt.Errorf("build login request: %w", err)
	}

	resp, err := c.loginClient.Do(request)
	if err != nil {
		return types.Session{}, fmt.Errorf("login request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var body loginResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return types.Session{}, fmt.Errorf("decode login response: %w", err)
		}
		if body.IDToken == "" {
			return types.Session{}, ErrMissingToken
		}
		return types.Session{Username: credential.Username, Token: body.IDToken}, nil
	case http.StatusAccepted:
		var body loginResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.ChallengeName != "" {
			return types.Session{}, fmt.Errorf("%w (challenge %s)", ErrMFAUnsupported, body.ChallengeName)
		}
		return types.Session{}, ErrMFAUnsupported
	default:
		return types.Session{}, newStatusError("login", resp)
	}
}
