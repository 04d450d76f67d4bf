package sso

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// TokenSet is the result of an authorization code exchange
type TokenSet struct {
	AccessToken string
	IDToken     string
}

// CodeExchanger redeems OIDC authorization codes at the token endpoint
type CodeExchanger struct {
	client  *http.Client
	secrets auth.SecretResolver
}

// NewCodeExchanger creates an exchanger. Client secrets are resolved per
// organization at exchange time.
func NewCodeExchanger(client *http.Client, secrets auth.SecretResolver) *CodeExchanger {
	if client == nil {
		client = observability.NewHTTPClient(defaultHTTPTimeout)
	}
	return &CodeExchanger{client: client, secrets: secrets}
}

// Exchange posts the code as a form-encoded authorization_code grant with
// the client credentials in the body. Every failure is
// auth.ErrOidcExchangeFailed; codes are single-use so nothing is retried.
func (e *CodeExchanger) Exchange(ctx context.Context, cfg *SsoConfig, code string) (*TokenSet, error) {
	oc := cfg.Oidc
	if oc == nil || oc.TokenEndpoint == "" || oc.ClientID == "" || oc.RedirectURL == "" {
		return nil, auth.Errorf(auth.CodeConfigIncomplete, "OIDC configuration requires a token endpoint, a client id and a redirect URL")
	}
	if code == "" {
		return nil, auth.Errorf(auth.CodeOidcExchangeFailed, "authorization code is missing")
	}

	secret, err := e.secrets.ResolveClientSecret(ctx, cfg.OrgID)
	if err != nil {
		return nil, auth.NewError(auth.CodeOidcExchangeFailed, "client secret is not available", err)
	}

	oauthCfg := oauth2.Config{
		ClientID:     oc.ClientID,
		ClientSecret: secret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   oc.AuthorizationEndpoint,
			TokenURL:  oc.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: oc.RedirectURL,
		Scopes:      OIDCScopes,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, auth.NewError(auth.CodeOidcExchangeFailed, "token endpoint rejected the authorization code", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return nil, auth.Errorf(auth.CodeOidcExchangeFailed, "token response did not include an id_token")
	}
	return &TokenSet{AccessToken: token.AccessToken, IDToken: idToken}, nil
}
