package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/spec-kit/vault-service/internal/config"
)

// SSOIdentity is the verified subject returned by the identity provider.
type SSOIdentity struct {
	Subject string
	Email   string
	Name    string
}

// SSOProvider runs the OIDC authorization code flow.
type SSOProvider struct {
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewSSOProvider discovers the issuer. It returns nil when SSO is not configured.
func NewSSOProvider(ctx context.Context, cfg config.OIDCConfig) (*SSOProvider, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc issuer: %w", err)
	}
	return &SSOProvider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// AuthCodeURL is the provider URL the browser is redirected to.
func (p *SSOProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades the authorization code for a verified identity.
func (p *SSOProvider) Exchange(ctx context.Context, code string) (SSOIdentity, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return SSOIdentity{}, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return SSOIdentity{}, errors.New("no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return SSOIdentity{}, fmt.Errorf("verify id_token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return SSOIdentity{}, fmt.Errorf("parse claims: %w", err)
	}
	if claims.Email == "" {
		return SSOIdentity{}, errors.New("id_token carries no email")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return SSOIdentity{}, errors.New("email not verified by provider")
	}
	return SSOIdentity{Subject: idToken.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// NewState returns a random OAuth state value.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
