package database

// schema is the seed script run once at startup. Every statement is
// CREATE IF NOT EXISTS so re-running is harmless.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id    TEXT NOT NULL,
    email       TEXT NOT NULL UNIQUE,
    password    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'not-logged-in',
    is_deleted  INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_accounts_group ON accounts(group_id);

CREATE TABLE IF NOT EXISTS account_recovery_email (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id  INTEGER NOT NULL,
    email       TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS account_recovery_phone (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id  INTEGER NOT NULL,
    phone       TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS account_token (
    group_id      TEXT PRIMARY KEY,
    access_token  TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    id_token      TEXT NOT NULL DEFAULT '',
    at_expires_at INTEGER NOT NULL,
    rt_expires_at INTEGER NOT NULL,
    scope         TEXT NOT NULL DEFAULT '',
    tenant_id     TEXT NOT NULL DEFAULT '',
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS account_version (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id    TEXT NOT NULL,
    version     INTEGER NOT NULL,
    state       TEXT NOT NULL,
    note        TEXT NOT NULL DEFAULT '',
    created_by  TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_account_version_group ON account_version(group_id, version);

CREATE TABLE IF NOT EXISTS mail_folders (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    folder_id        TEXT NOT NULL,
    group_id         TEXT NOT NULL,
    display_name     TEXT NOT NULL DEFAULT '',
    well_known_name  TEXT NOT NULL DEFAULT '',
    parent_folder_id TEXT NOT NULL DEFAULT '',
    total_count      INTEGER NOT NULL DEFAULT 0,
    unread_count     INTEGER NOT NULL DEFAULT 0,
    delta_link       TEXT,
    last_sync_at     TEXT,
    synced_count     INTEGER NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (group_id, folder_id)
);

CREATE TABLE IF NOT EXISTS mail_message (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id        TEXT NOT NULL,
    account_id      INTEGER NOT NULL DEFAULT 0,
    msg_uid         TEXT NOT NULL,
    msg_id          TEXT NOT NULL DEFAULT '',
    subject         TEXT NOT NULL DEFAULT '',
    from_addr       TEXT NOT NULL DEFAULT '',
    from_name       TEXT NOT NULL DEFAULT '',
    to_joined       TEXT NOT NULL DEFAULT '',
    snippet         TEXT NOT NULL DEFAULT '',
    folder_id       TEXT NOT NULL DEFAULT '',
    sent_at         TEXT,
    received_at     TEXT,
    size_bytes      INTEGER NOT NULL DEFAULT 0,
    has_attachments INTEGER NOT NULL DEFAULT 0,
    flags           TEXT NOT NULL DEFAULT 'UNREAD',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (group_id, msg_uid)
);
CREATE INDEX IF NOT EXISTS idx_mail_message_folder ON mail_message(group_id, folder_id, received_at);
CREATE INDEX IF NOT EXISTS idx_mail_message_received ON mail_message(received_at);

CREATE TABLE IF NOT EXISTS mail_body (
    message_id  INTEGER PRIMARY KEY,
    headers     TEXT NOT NULL DEFAULT '',
    body_plain  TEXT NOT NULL DEFAULT '',
    body_html   TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS mail_attachment (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id      INTEGER NOT NULL,
    attachment_id   TEXT NOT NULL,
    filename        TEXT NOT NULL DEFAULT '',
    content_type    TEXT NOT NULL DEFAULT '',
    size            INTEGER NOT NULL DEFAULT 0,
    is_inline       INTEGER NOT NULL DEFAULT 0,
    content_id      TEXT NOT NULL DEFAULT '',
    download_status TEXT NOT NULL DEFAULT 'pending',
    UNIQUE (message_id, attachment_id)
);

CREATE TABLE IF NOT EXISTS project_assignments (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id  INTEGER NOT NULL,
    account_id  INTEGER NOT NULL,
    user_id     INTEGER NOT NULL,
    UNIQUE (project_id, account_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_project_assignments_user ON project_assignments(user_id);
`
