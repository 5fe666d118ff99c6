package persistence

import (
	"context"

	"github.com/jmoiron/sqlx"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/infra/database"
)

// =============================================================================
// AccountAdapter - accounts / account_version / project_assignments
// =============================================================================

type AccountAdapter struct {
	store *database.Store
}

func NewAccountAdapter(store *database.Store) *AccountAdapter {
	return &AccountAdapter{store: store}
}

// =============================================================================
// Entity
// =============================================================================

type accountEntity struct {
	ID        int64  `db:"id"`
	GroupID   string `db:"group_id"`
	Email     string `db:"email"`
	Password  string `db:"password"`
	Status    string `db:"status"`
	IsDeleted int    `db:"is_deleted"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (e *accountEntity) toDomain() *domain.Account {
	return &domain.Account{
		ID:        e.ID,
		GroupID:   e.GroupID,
		Email:     e.Email,
		Password:  e.Password,
		Status:    domain.AccountStatus(e.Status),
		IsDeleted: e.IsDeleted != 0,
		CreatedAt: parseSQLTime(e.CreatedAt),
		UpdatedAt: parseSQLTime(e.UpdatedAt),
	}
}

type snapshotEntity struct {
	ID        int64  `db:"id"`
	GroupID   string `db:"group_id"`
	Version   int    `db:"version"`
	State     string `db:"state"`
	Note      string `db:"note"`
	CreatedBy string `db:"created_by"`
	CreatedAt string `db:"created_at"`
}

func (e *snapshotEntity) toDomain() *domain.VersionSnapshot {
	return &domain.VersionSnapshot{
		ID:        e.ID,
		GroupID:   e.GroupID,
		Version:   e.Version,
		State:     e.State,
		Note:      e.Note,
		CreatedBy: e.CreatedBy,
		CreatedAt: parseSQLTime(e.CreatedAt),
	}
}

// =============================================================================
// Accounts
// =============================================================================

func (a *AccountAdapter) ListByGroup(ctx context.Context, groupID string) ([]*domain.Account, error) {
	var entities []accountEntity
	query := `SELECT * FROM accounts WHERE group_id = ? AND is_deleted = 0 ORDER BY id`
	if err := a.store.DB().SelectContext(ctx, &entities, query, groupID); err != nil {
		return nil, err
	}

	accounts := make([]*domain.Account, len(entities))
	for i := range entities {
		accounts[i] = entities[i].toDomain()
	}
	return accounts, nil
}

func (a *AccountAdapter) UpdateStatus(ctx context.Context, accountID int64, status domain.AccountStatus) error {
	query := `UPDATE accounts SET status = ?, updated_at = datetime('now') WHERE id = ?`
	_, err := a.store.DB().ExecContext(ctx, query, string(status), accountID)
	return err
}

// =============================================================================
// Version snapshots (append-only)
// =============================================================================

// SaveSnapshot assigns the next version number and appends the row inside one
// transaction, so concurrent writers cannot reuse a version.
func (a *AccountAdapter) SaveSnapshot(ctx context.Context, snap *domain.VersionSnapshot) error {
	return a.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var next int
		if err := tx.GetContext(ctx, &next,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM account_version WHERE group_id = ?`,
			snap.GroupID); err != nil {
			return err
		}
		snap.Version = next

		_, err := tx.ExecContext(ctx, `
			INSERT INTO account_version (group_id, version, state, note, created_by)
			VALUES (?, ?, ?, ?, ?)`,
			snap.GroupID, snap.Version, snap.State, snap.Note, snap.CreatedBy)
		return err
	})
}

func (a *AccountAdapter) ListSnapshots(ctx context.Context, groupID string) ([]*domain.VersionSnapshot, error) {
	var entities []snapshotEntity
	query := `SELECT * FROM account_version WHERE group_id = ? ORDER BY version DESC`
	if err := a.store.DB().SelectContext(ctx, &entities, query, groupID); err != nil {
		return nil, err
	}

	snaps := make([]*domain.VersionSnapshot, len(entities))
	for i := range entities {
		snaps[i] = entities[i].toDomain()
	}
	return snaps, nil
}

// =============================================================================
// Project assignments
// =============================================================================

func (a *AccountAdapter) VisibleAccountIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	query := `SELECT DISTINCT account_id FROM project_assignments WHERE user_id = ? ORDER BY account_id`
	if err := a.store.DB().SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, err
	}
	return ids, nil
}

var _ out.AccountStore = (*AccountAdapter)(nil)
