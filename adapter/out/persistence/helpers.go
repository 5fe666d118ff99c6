package persistence

import (
	"database/sql"
	"time"
)

// =============================================================================
// Helper functions
// =============================================================================

// sqlTimeLayout matches the datetime('now') format SQLite writes.
const sqlTimeLayout = "2006-01-02 15:04:05"

func parseSQLTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(sqlTimeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func formatSQLTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

func nullStringValue(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func nullTimeValue(s sql.NullString) time.Time {
	if s.Valid {
		return parseSQLTime(s.String)
	}
	return time.Time{}
}

func toNullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func toNullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return formatSQLTime(t)
}
