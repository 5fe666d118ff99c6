package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"mailvault/core/domain"
	"mailvault/pkg/apperr"
)

// TaskService is the slice of the worker task service this handler needs.
type TaskService interface {
	Submit(ctx context.Context, userID int64, isAdmin bool, taskType, groupID string, payload map[string]any) (string, error)
	Cancel(ctx context.Context, userID int64, taskType, groupID string) error
	ListStatus(ctx context.Context, userID int64, taskType string) ([]domain.TaskStatus, error)
}

// =============================================================================
// TaskHandler - 비동기 작업 제출/조회/취소
// =============================================================================

type TaskHandler struct {
	tasks TaskService
}

func NewTaskHandler(tasks TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

func (h *TaskHandler) Register(app *fiber.App, auth fiber.Handler) {
	group := app.Group("/auth", auth)
	group.Post("/login/group/:groupID", h.SubmitLogin)
	group.Post("/sync/group/:groupID", h.SubmitSync)
	group.Post("/sync-folders/group/:groupID", h.SubmitSyncFolders)
	group.Get("/:type/status/list", h.ListStatus)
	group.Post("/:type/cancel/:groupID", h.Cancel)
}

func (h *TaskHandler) SubmitLogin(c *fiber.Ctx) error {
	return h.submit(c, domain.TaskLogin, nil)
}

func (h *TaskHandler) SubmitSync(c *fiber.Ctx) error {
	strategy := c.Query("strategy", string(domain.SyncAuto))
	if !domain.SyncStrategy(strategy).Valid() {
		return AppErrorResponse(c, apperr.BadRequest("unknown sync strategy "+strategy))
	}
	return h.submit(c, domain.TaskSync, map[string]any{"strategy": strategy})
}

func (h *TaskHandler) SubmitSyncFolders(c *fiber.Ctx) error {
	return h.submit(c, domain.TaskSyncFolders, nil)
}

func (h *TaskHandler) submit(c *fiber.Ctx, taskType string, payload map[string]any) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	groupID := c.Params("groupID")
	if groupID == "" {
		return AppErrorResponse(c, apperr.MissingField("groupID"))
	}

	taskID, err := h.tasks.Submit(c.Context(), userID, IsAdmin(c), taskType, groupID, payload)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"task_id":  taskID,
		"type":     taskType,
		"group_id": groupID,
	})
}

func (h *TaskHandler) ListStatus(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	taskType := c.Params("type")
	if !validTaskType(taskType) {
		return AppErrorResponse(c, apperr.BadRequest("unknown task type "+taskType))
	}

	statuses, err := h.tasks.ListStatus(c.Context(), userID, taskType)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if statuses == nil {
		statuses = []domain.TaskStatus{}
	}
	return SuccessResponse(c, fiber.Map{"statuses": statuses})
}

func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	taskType := c.Params("type")
	if !validTaskType(taskType) {
		return AppErrorResponse(c, apperr.BadRequest("unknown task type "+taskType))
	}
	groupID := c.Params("groupID")

	if err := h.tasks.Cancel(c.Context(), userID, taskType, groupID); err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"cancelled": true})
}

func validTaskType(taskType string) bool {
	switch taskType {
	case domain.TaskLogin, domain.TaskSync, domain.TaskSyncFolders, domain.TaskDownload:
		return true
	}
	return false
}
