package domain

import "fmt"

// TaskState is the lifecycle state of an asynchronous task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSuccess   TaskState = "success"
	TaskFailure   TaskState = "failure"
	TaskCancelled TaskState = "cancelled"
)

// Active reports whether the state still blocks a duplicate submission.
func (s TaskState) Active() bool {
	return s == TaskPending || s == TaskRunning
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s == TaskSuccess || s == TaskFailure || s == TaskCancelled
}

// TaskType values accepted by the runtime.
const (
	TaskLogin       = "login"
	TaskSync        = "sync"
	TaskSyncFolders = "sync_folders"
	TaskDownload    = "download"
)

// TaskStatus is the record stored under the status key for one
// (user, group, type) identity. Last write wins.
type TaskStatus struct {
	TaskID    string    `json:"task_id"`
	GroupID   string    `json:"group_id"`
	Type      string    `json:"type"`
	State     TaskState `json:"status"`
	Message   string    `json:"message"`
	UpdatedAt int64     `json:"updated_at"` // epoch seconds
}

// TaskKey is the logical identity used for deduplication.
func TaskKey(taskType, groupID string) string {
	return fmt.Sprintf("%s_%s", taskType, groupID)
}

// ActiveTask is the cluster-wide marker holding one task key. At most one
// task per key may be pending or running, regardless of who submitted it.
type ActiveTask struct {
	TaskID string `json:"task_id"`
	UserID int64  `json:"user_id"`
}

// SyncStrategy selects how a group sync round walks the provider.
type SyncStrategy string

const (
	SyncAuto        SyncStrategy = "auto"
	SyncDelta       SyncStrategy = "delta"
	SyncIncremental SyncStrategy = "incremental"
	SyncRecent      SyncStrategy = "recent"
	SyncFull        SyncStrategy = "full"
	SyncCheck       SyncStrategy = "check"
)

// Valid reports whether the strategy is one the engine understands.
func (s SyncStrategy) Valid() bool {
	switch s {
	case SyncAuto, SyncDelta, SyncIncremental, SyncRecent, SyncFull, SyncCheck:
		return true
	}
	return false
}

// SyncStats aggregates one sync round.
type SyncStats struct {
	Folders  int `json:"folders"`
	Fetched  int `json:"fetched"`
	Enqueued int `json:"enqueued"`
	Errors   int `json:"errors"`
}

// DownloadStats aggregates one batch download task.
type DownloadStats struct {
	Requested      int                `json:"requested"`
	Skipped        int                `json:"skipped"`
	Downloaded     int                `json:"downloaded"`
	AuthErrors     map[string][]int64 `json:"auth_errors"`     // group -> message ids
	DownloadErrors []int64            `json:"download_errors"` // message ids
}
