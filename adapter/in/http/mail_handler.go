package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/core/service/mail"
	"mailvault/pkg/apperr"
)

// MailService is the slice of the mail service this handler needs.
type MailService interface {
	Search(ctx context.Context, userID int64, isAdmin bool, q out.MailQuery) (*mail.SearchResult, error)
	GetDetail(ctx context.Context, id int64) (*out.MailDetail, error)
	MarkRead(ctx context.Context, id int64) error
	MarkFlagged(ctx context.Context, id int64) error
	Send(ctx context.Context, groupID string, mail out.OutgoingMail) error
}

// =============================================================================
// MailHandler - 메일 조회/플래그/발송/다운로드
// =============================================================================

type MailHandler struct {
	mails MailService
	tasks TaskService
}

func NewMailHandler(mails MailService, tasks TaskService) *MailHandler {
	return &MailHandler{mails: mails, tasks: tasks}
}

func (h *MailHandler) Register(app *fiber.App, auth fiber.Handler) {
	group := app.Group("/mail", auth)
	group.Get("/search", h.Search)
	group.Post("/send", h.Send)
	group.Post("/download", h.Download)
	group.Get("/:id", h.Detail)
	group.Post("/:id/read", h.MarkRead)
	group.Post("/:id/flag", h.MarkFlagged)
}

// =============================================================================
// Search & detail
// =============================================================================

func (h *MailHandler) Search(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	q := out.MailQuery{
		GroupID:        c.Query("group_id"),
		FolderID:       c.Query("folder_id"),
		Sender:         c.Query("sender"),
		Subject:        c.Query("subject"),
		UnreadOnly:     c.QueryBool("unread", false),
		HasAttachments: c.QueryBool("has_attachments", false),
		Page:           c.QueryInt("page", 1),
		PageSize:       c.QueryInt("page_size", 50),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return AppErrorResponse(c, apperr.BadRequest("since must be RFC3339"))
		}
		q.Since = t
	}
	if until := c.Query("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return AppErrorResponse(c, apperr.BadRequest("until must be RFC3339"))
		}
		q.Until = t
	}

	result, err := h.mails.Search(c.Context(), userID, IsAdmin(c), q)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, result)
}

func (h *MailHandler) Detail(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return AppErrorResponse(c, apperr.BadRequest("invalid message id"))
	}

	detail, err := h.mails.GetDetail(c.Context(), int64(id))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, detail)
}

// =============================================================================
// Flags
// =============================================================================

func (h *MailHandler) MarkRead(c *fiber.Ctx) error {
	return h.flag(c, h.mails.MarkRead)
}

func (h *MailHandler) MarkFlagged(c *fiber.Ctx) error {
	return h.flag(c, h.mails.MarkFlagged)
}

func (h *MailHandler) flag(c *fiber.Ctx, apply func(context.Context, int64) error) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return AppErrorResponse(c, apperr.BadRequest("invalid message id"))
	}
	if err := apply(c.Context(), int64(id)); err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"updated": true})
}

// =============================================================================
// Send
// =============================================================================

type sendRequest struct {
	GroupID string   `json:"group_id"`
	To      []string `json:"to"`
	Cc      []string `json:"cc"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	IsHTML  bool     `json:"is_html"`
}

func (h *MailHandler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("malformed request body"))
	}
	if req.GroupID == "" {
		return AppErrorResponse(c, apperr.MissingField("group_id"))
	}

	err := h.mails.Send(c.Context(), req.GroupID, out.OutgoingMail{
		To:      req.To,
		Cc:      req.Cc,
		Subject: req.Subject,
		Body:    req.Body,
		IsHTML:  req.IsHTML,
	})
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"sent": true})
}

// =============================================================================
// Batch download
// =============================================================================

type downloadRequest struct {
	MessageIDs []int64 `json:"message_ids"`
	GroupID    string  `json:"group_id"`
}

// Download submits a batch download task. GroupID only scopes the task
// identity for dedup and cancellation; the batch itself may span groups.
func (h *MailHandler) Download(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var req downloadRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.BadRequest("malformed request body"))
	}
	if len(req.MessageIDs) == 0 {
		return AppErrorResponse(c, apperr.MissingField("message_ids"))
	}
	if req.GroupID == "" {
		req.GroupID = "batch"
	}

	taskID, err := h.tasks.Submit(c.Context(), userID, IsAdmin(c), domain.TaskDownload, req.GroupID,
		map[string]any{"message_ids": req.MessageIDs})
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"task_id":   taskID,
		"type":      domain.TaskDownload,
		"group_id":  req.GroupID,
		"requested": len(req.MessageIDs),
	})
}
