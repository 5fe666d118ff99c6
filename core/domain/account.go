package domain

import "time"

// AccountStatus tracks the login state of an individual alias.
type AccountStatus string

const (
	AccountNotLoggedIn   AccountStatus = "not-logged-in"
	AccountLoginSuccess  AccountStatus = "success"
	AccountLoginFailure  AccountStatus = "failure"
	AccountPasswordError AccountStatus = "password-error"
	AccountPhoneVerify   AccountStatus = "phone-verify"
)

// Account is a single alias inside a group. All aliases of a group share one
// refresh token.
type Account struct {
	ID        int64
	GroupID   string
	Email     string
	Password  string
	Status    AccountStatus
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecoveryEmail holds a recovery mail address registered for an account.
type RecoveryEmail struct {
	ID        int64
	AccountID int64
	Email     string
	CreatedAt time.Time
}

// RecoveryPhone holds a recovery phone number registered for an account.
type RecoveryPhone struct {
	ID        int64
	AccountID int64
	Phone     string
	CreatedAt time.Time
}

// VersionSnapshot is an append-only capture of a group's account and recovery
// state, written on every account mutation and used for restore.
type VersionSnapshot struct {
	ID        int64
	GroupID   string
	Version   int
	State     string // serialized account + recovery data
	Note      string
	CreatedBy string
	CreatedAt time.Time
}

// ProjectAssignment is the authorization edge between a user and an account.
// Non-admin users only see messages whose account appears in their set.
type ProjectAssignment struct {
	ID        int64
	ProjectID int64
	AccountID int64
	UserID    int64
}
