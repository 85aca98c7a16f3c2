package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/memora-app/memora/internal/auth"
)

// ErrEmailUnverified is returned when the provider reports an email address
// it has not verified. Such identities are rejected outright because email
// ownership is what account linking keys on.
var ErrEmailUnverified = errors.New("provider email is not verified")

// Config holds the settings for one upstream identity provider.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// HTTPClient, when set, is used for discovery, token exchange and JWKS
	// fetches instead of http.DefaultClient.
	HTTPClient *http.Client
}

// Identity is the verified subject extracted from the provider's ID token.
type Identity struct {
	ExternalID string
	Email      string
	Name       string
	PictureURL string
}

// FlowState carries the per-flow secrets between the initial redirect and the
// callback. It must reach the callback through a channel the user agent
// cannot tamper with.
type FlowState struct {
	State    string `json:"s"`
	Nonce    string `json:"n"`
	Verifier string `json:"v"`
}

// Coordinator drives the authorization-code flow against one provider,
// with PKCE and a nonce-bound ID token on top.
type Coordinator struct {
	oauth    oauth2.Config
	verifier *gooidc.IDTokenVerifier
	client   *http.Client
}

// NewCoordinator discovers the provider's endpoints and signing keys. It
// performs a network round trip, so call it once at startup.
func NewCoordinator(ctx context.Context, cfg Config) (*Coordinator, error) {
	if cfg.HTTPClient != nil {
		ctx = gooidc.ClientContext(ctx, cfg.HTTPClient)
	}

	provider, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover provider %s: %w", cfg.IssuerURL, err)
	}

	return &Coordinator{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{gooidc.ScopeOpenID, "email", "profile"},
		},
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		client:   cfg.HTTPClient,
	}, nil
}

// Begin mints the per-flow secrets and builds the provider redirect URL.
func (c *Coordinator) Begin() (FlowState, string, error) {
	state, err := auth.NewSecret()
	if err != nil {
		return FlowState{}, "", fmt.Errorf("generate state: %w", err)
	}

	nonce, err := auth.NewSecret()
	if err != nil {
		return FlowState{}, "", fmt.Errorf("generate nonce: %w", err)
	}

	flow := FlowState{
		State:    state,
		Nonce:    nonce,
		Verifier: oauth2.GenerateVerifier(),
	}

	url := c.oauth.AuthCodeURL(flow.State,
		gooidc.Nonce(flow.Nonce),
		oauth2.S256ChallengeOption(flow.Verifier),
	)

	return flow, url, nil
}

// Exchange redeems the authorization code, verifies the ID token signature
// and nonce, and extracts the identity claims.
func (c *Coordinator) Exchange(ctx context.Context, code string, flow FlowState) (*Identity, error) {
	if c.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	}

	token, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(flow.Verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("token response is missing id_token")
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	if idToken.Nonce != flow.Nonce {
		return nil, errors.New("id token nonce mismatch")
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id token claims: %w", err)
	}

	if claims.Email == "" {
		return nil, errors.New("id token is missing the email claim")
	}
	if !claims.EmailVerified {
		return nil, ErrEmailUnverified
	}

	return &Identity{
		ExternalID: idToken.Subject,
		Email:      claims.Email,
		Name:       claims.Name,
		PictureURL: claims.Picture,
	}, nil
}
