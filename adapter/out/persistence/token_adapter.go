package persistence

import (
	"context"
	"database/sql"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/infra/database"
)

// =============================================================================
// TokenAdapter - account_token 저장소
// =============================================================================

type TokenAdapter struct {
	store *database.Store
}

func NewTokenAdapter(store *database.Store) *TokenAdapter {
	return &TokenAdapter{store: store}
}

// =============================================================================
// Entity
// =============================================================================

type tokenEntity struct {
	GroupID      string `db:"group_id"`
	AccessToken  string `db:"access_token"`
	RefreshToken string `db:"refresh_token"`
	IDToken      string `db:"id_token"`
	ATExpiresAt  int64  `db:"at_expires_at"`
	RTExpiresAt  int64  `db:"rt_expires_at"`
	Scope        string `db:"scope"`
	TenantID     string `db:"tenant_id"`
	UpdatedAt    string `db:"updated_at"`
}

func (e *tokenEntity) toDomain() *domain.AccountToken {
	return &domain.AccountToken{
		GroupID:      e.GroupID,
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		IDToken:      e.IDToken,
		ATExpiresAt:  e.ATExpiresAt,
		RTExpiresAt:  e.RTExpiresAt,
		Scope:        e.Scope,
		TenantID:     e.TenantID,
		UpdatedAt:    parseSQLTime(e.UpdatedAt),
	}
}

// =============================================================================
// CRUD
// =============================================================================

func (a *TokenAdapter) Get(ctx context.Context, groupID string) (*domain.AccountToken, error) {
	var entity tokenEntity
	query := `SELECT group_id, access_token, refresh_token, id_token,
	                 at_expires_at, rt_expires_at, scope, tenant_id, updated_at
	          FROM account_token WHERE group_id = ?`
	if err := a.store.DB().GetContext(ctx, &entity, query, groupID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// Upsert writes the whole token row atomically. The refresh_token column is
// always taken from the caller, which is responsible for carrying the prior
// value forward when the provider omitted a rotated token.
func (a *TokenAdapter) Upsert(ctx context.Context, token *domain.AccountToken) error {
	query := `
		INSERT INTO account_token (
			group_id, access_token, refresh_token, id_token,
			at_expires_at, rt_expires_at, scope, tenant_id, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(group_id) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			id_token      = excluded.id_token,
			at_expires_at = excluded.at_expires_at,
			rt_expires_at = excluded.rt_expires_at,
			scope         = excluded.scope,
			tenant_id     = excluded.tenant_id,
			updated_at    = excluded.updated_at
	`
	_, err := a.store.DB().ExecContext(ctx, query,
		token.GroupID,
		token.AccessToken,
		token.RefreshToken,
		token.IDToken,
		token.ATExpiresAt,
		token.RTExpiresAt,
		token.Scope,
		token.TenantID,
	)
	return err
}

func (a *TokenAdapter) Delete(ctx context.Context, groupID string) error {
	query := `DELETE FROM account_token WHERE group_id = ?`
	_, err := a.store.DB().ExecContext(ctx, query, groupID)
	return err
}

var _ out.TokenStore = (*TokenAdapter)(nil)
