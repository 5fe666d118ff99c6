package persistence

import (
	"context"
	"database/sql"
	"time"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/infra/database"
)

// =============================================================================
// FolderAdapter - mail_folders 동기화 커서 저장소
// =============================================================================

type FolderAdapter struct {
	store *database.Store
}

func NewFolderAdapter(store *database.Store) *FolderAdapter {
	return &FolderAdapter{store: store}
}

// =============================================================================
// Entity
// =============================================================================

type folderEntity struct {
	ID             int64          `db:"id"`
	FolderID       string         `db:"folder_id"`
	GroupID        string         `db:"group_id"`
	DisplayName    string         `db:"display_name"`
	WellKnownName  string         `db:"well_known_name"`
	ParentFolderID string         `db:"parent_folder_id"`
	TotalCount     int            `db:"total_count"`
	UnreadCount    int            `db:"unread_count"`
	DeltaLink      sql.NullString `db:"delta_link"`
	LastSyncAt     sql.NullString `db:"last_sync_at"`
	SyncedCount    int            `db:"synced_count"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (e *folderEntity) toDomain() *domain.MailFolder {
	return &domain.MailFolder{
		ID:             e.ID,
		FolderID:       e.FolderID,
		GroupID:        e.GroupID,
		DisplayName:    e.DisplayName,
		WellKnownName:  e.WellKnownName,
		ParentFolderID: e.ParentFolderID,
		TotalCount:     e.TotalCount,
		UnreadCount:    e.UnreadCount,
		DeltaLink:      nullStringValue(e.DeltaLink),
		LastSyncAt:     nullTimeValue(e.LastSyncAt),
		SyncedCount:    e.SyncedCount,
		CreatedAt:      parseSQLTime(e.CreatedAt),
		UpdatedAt:      parseSQLTime(e.UpdatedAt),
	}
}

// =============================================================================
// Reads
// =============================================================================

func (a *FolderAdapter) ListByGroup(ctx context.Context, groupID string) ([]*domain.MailFolder, error) {
	var entities []folderEntity
	query := `SELECT * FROM mail_folders WHERE group_id = ? ORDER BY display_name`
	if err := a.store.DB().SelectContext(ctx, &entities, query, groupID); err != nil {
		return nil, err
	}

	folders := make([]*domain.MailFolder, len(entities))
	for i := range entities {
		folders[i] = entities[i].toDomain()
	}
	return folders, nil
}

func (a *FolderAdapter) GetByFolderID(ctx context.Context, groupID, folderID string) (*domain.MailFolder, error) {
	var entity folderEntity
	query := `SELECT * FROM mail_folders WHERE group_id = ? AND folder_id = ?`
	if err := a.store.DB().GetContext(ctx, &entity, query, groupID, folderID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// =============================================================================
// Cursor updates
// =============================================================================

// SaveCursor replaces the delta cursor. Called only after the walk that
// consumed the previous cursor completed.
func (a *FolderAdapter) SaveCursor(ctx context.Context, groupID, folderID, deltaLink string, syncedAt time.Time, added int) error {
	query := `
		UPDATE mail_folders SET
			delta_link   = ?,
			last_sync_at = ?,
			synced_count = synced_count + ?,
			updated_at   = datetime('now')
		WHERE group_id = ? AND folder_id = ?
	`
	_, err := a.store.DB().ExecContext(ctx, query,
		toNullableString(deltaLink), formatSQLTime(syncedAt), added, groupID, folderID)
	return err
}

// SaveSyncTime advances last_sync_at without touching the delta cursor.
func (a *FolderAdapter) SaveSyncTime(ctx context.Context, groupID, folderID string, syncedAt time.Time, added int) error {
	query := `
		UPDATE mail_folders SET
			last_sync_at = ?,
			synced_count = synced_count + ?,
			updated_at   = datetime('now')
		WHERE group_id = ? AND folder_id = ?
	`
	_, err := a.store.DB().ExecContext(ctx, query, formatSQLTime(syncedAt), added, groupID, folderID)
	return err
}

// ClearCursor drops an expired delta cursor.
func (a *FolderAdapter) ClearCursor(ctx context.Context, groupID, folderID string) error {
	query := `
		UPDATE mail_folders SET
			delta_link = NULL,
			updated_at = datetime('now')
		WHERE group_id = ? AND folder_id = ?
	`
	_, err := a.store.DB().ExecContext(ctx, query, groupID, folderID)
	return err
}

// =============================================================================
// Watchdog
// =============================================================================

// ListStaleGroups returns group ids owning at least one folder whose last
// sync predates the threshold. Folders never synced are not keep-alive
// candidates.
func (a *FolderAdapter) ListStaleGroups(ctx context.Context, olderThan time.Time) ([]string, error) {
	var groups []string
	query := `
		SELECT DISTINCT group_id FROM mail_folders
		WHERE last_sync_at IS NOT NULL
		  AND last_sync_at < ?
		ORDER BY group_id
	`
	if err := a.store.DB().SelectContext(ctx, &groups, query, formatSQLTime(olderThan)); err != nil {
		return nil, err
	}
	return groups, nil
}

var _ out.FolderStore = (*FolderAdapter)(nil)
