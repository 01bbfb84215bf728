package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// NewService builds an authorized Gmail API service from an OAuth client
// secret (the credentials.json downloaded from Google Cloud) and a stored
// user token. The token is refreshed transparently when it expires.
func NewService(ctx context.Context, credentialsJSON, tokenJSON []byte, opts ...option.ClientOption) (*gmailapi.Service, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("gmail: credentials must not be empty")
	}
	cfg, err := google.ConfigFromJSON(credentialsJSON, gmailapi.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("gmail: parse credentials: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("gmail: parse token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("gmail: token has neither access nor refresh token")
	}

	opts = append([]option.ClientOption{option.WithTokenSource(cfg.TokenSource(ctx, &tok))}, opts...)
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: create service: %w", err)
	}
	return svc, nil
}
