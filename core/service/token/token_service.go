// Package token owns the access-token lifecycle of each account group.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/sync/singleflight"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/pkg/apperr"
)

// =============================================================================
// Service
// =============================================================================

type Config struct {
	ClientID string
	TenantID string
	Scopes   []string
}

// Service hands out valid access tokens, refreshing through the identity
// endpoint when the stored token is inside the refresh buffer. Refreshes for
// the same group are collapsed into one flight.
type Service struct {
	tokens out.TokenStore
	oauth  oauth2.Config
	flight singleflight.Group
	log    zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewService(tokens out.TokenStore, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		tokens: tokens,
		oauth: oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: microsoft.AzureADEndpoint(cfg.TenantID),
			Scopes:   cfg.Scopes,
		},
		log: log.With().Str("component", "token_service").Logger(),
		now: time.Now,
	}
}

// =============================================================================
// Access
// =============================================================================

// GetAccessToken returns a usable access token for the group, refreshing it
// first when expired. A missing row or a dead refresh token yields
// AUTH_REQUIRED so the caller can route the group back through login.
func (s *Service) GetAccessToken(ctx context.Context, groupID string) (string, error) {
	row, err := s.tokens.Get(ctx, groupID)
	if err != nil {
		return "", apperr.DatabaseError("get token", err)
	}
	if row == nil {
		return "", apperr.AuthRequired("no token for group " + groupID)
	}
	if !row.Expired(s.now()) {
		return row.AccessToken, nil
	}

	// Only one refresh per group runs at a time; latecomers share its result.
	result, err, _ := s.flight.Do(groupID, func() (any, error) {
		return s.refresh(ctx, groupID)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (s *Service) refresh(ctx context.Context, groupID string) (string, error) {
	// Re-read inside the flight: a concurrent caller may have refreshed while
	// this one was queued.
	row, err := s.tokens.Get(ctx, groupID)
	if err != nil {
		return "", apperr.DatabaseError("get token", err)
	}
	if row == nil {
		return "", apperr.AuthRequired("no token for group " + groupID)
	}
	if !row.Expired(s.now()) {
		return row.AccessToken, nil
	}

	src := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: row.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return "", s.mapRefreshError(ctx, groupID, err)
	}

	refreshToken := fresh.RefreshToken
	if refreshToken == "" {
		// Rotation omitted: the previous refresh token stays valid.
		refreshToken = row.RefreshToken
	}

	now := s.now()
	updated := &domain.AccountToken{
		GroupID:      groupID,
		AccessToken:  fresh.AccessToken,
		RefreshToken: refreshToken,
		IDToken:      row.IDToken,
		ATExpiresAt:  fresh.Expiry.Unix(),
		RTExpiresAt:  now.Add(domain.RefreshTokenLifetime).Unix(),
		Scope:        row.Scope,
		TenantID:     row.TenantID,
		UpdatedAt:    now,
	}
	if idToken, ok := fresh.Extra("id_token").(string); ok && idToken != "" {
		updated.IDToken = idToken
	}
	if scope, ok := fresh.Extra("scope").(string); ok && scope != "" {
		updated.Scope = scope
	}

	if err := s.tokens.Upsert(ctx, updated); err != nil {
		return "", apperr.DatabaseError("save refreshed token", err)
	}

	s.log.Info().Str("group_id", groupID).
		Time("expires_at", fresh.Expiry).
		Msg("access token refreshed")
	return fresh.AccessToken, nil
}

// mapRefreshError separates dead refresh tokens from transient endpoint
// failures. invalid_grant means the grant itself is gone: the row is removed
// so the group surfaces as needing login instead of failing forever.
func (s *Service) mapRefreshError(ctx context.Context, groupID string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
		s.log.Warn().Str("group_id", groupID).Msg("refresh token revoked, dropping token row")
		if delErr := s.tokens.Delete(ctx, groupID); delErr != nil {
			s.log.Error().Err(delErr).Str("group_id", groupID).Msg("token row delete failed")
		}
		return apperr.AuthRequired("refresh token no longer valid")
	}
	return apperr.AuthTransient(err)
}

// =============================================================================
// Persistence
// =============================================================================

// StoreCredential saves the initial token triple produced by a login flow.
func (s *Service) StoreCredential(ctx context.Context, groupID string, triple *domain.TokenTriple) error {
	now := s.now()
	row := &domain.AccountToken{
		GroupID:      groupID,
		AccessToken:  triple.AccessToken,
		RefreshToken: triple.RefreshToken,
		IDToken:      triple.IDToken,
		ATExpiresAt:  triple.ExpiresAt.Unix(),
		RTExpiresAt:  now.Add(domain.RefreshTokenLifetime).Unix(),
		Scope:        triple.Scope,
		TenantID:     triple.TenantID,
		UpdatedAt:    now,
	}
	if err := s.tokens.Upsert(ctx, row); err != nil {
		return apperr.DatabaseError("store credential", err)
	}
	s.log.Info().Str("group_id", groupID).Msg("credential stored")
	return nil
}

// Revoke drops the token row of a group.
func (s *Service) Revoke(ctx context.Context, groupID string) error {
	if err := s.tokens.Delete(ctx, groupID); err != nil {
		return apperr.DatabaseError("revoke token", err)
	}
	return nil
}
