package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes requested from Google. The full mail scope is required for SMTP
// XOAUTH2; gmail.send covers the REST transport.
var googleScopes = []string{
	"openid",
	"email",
	"https://mail.google.com/",
	"https://www.googleapis.com/auth/gmail.send",
}

// GoogleOAuth drives the authorization-code flow against Google.
type GoogleOAuth struct {
	config *oauth2.Config
}

func NewGoogleOAuth(clientID, clientSecret, redirectURL string) *GoogleOAuth {
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       googleScopes,
		},
	}
}

// AuthURL returns the consent-screen URL for the given CSRF state. Offline
// access plus forced consent makes Google return a refresh token even for
// repeat authorizations.
func (g *GoogleOAuth) AuthURL(state string) string {
	return g.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades the authorization code for tokens. The returned id token
// identifies the mailbox; verify it before trusting the email claim.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, string, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return nil, "", fmt.Errorf("token response missing id_token")
	}
	return token, idToken, nil
}
