package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"mailvault/core/domain"
	"mailvault/pkg/apperr"
)

// AccountReader is the slice of the account store this handler needs.
type AccountReader interface {
	ListByGroup(ctx context.Context, groupID string) ([]*domain.Account, error)
	ListSnapshots(ctx context.Context, groupID string) ([]*domain.VersionSnapshot, error)
}

// AccountHandler exposes group account rows and their version history.
type AccountHandler struct {
	accounts AccountReader
}

func NewAccountHandler(accounts AccountReader) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

func (h *AccountHandler) Register(app *fiber.App, auth fiber.Handler) {
	group := app.Group("/accounts", auth)
	group.Get("/group/:groupID", h.ListByGroup)
	group.Get("/group/:groupID/versions", h.ListVersions)
}

// accountView is the wire shape of an account row. Passwords never leave the
// process.
type accountView struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

func (h *AccountHandler) ListByGroup(c *fiber.Ctx) error {
	groupID := c.Params("groupID")
	accounts, err := h.accounts.ListByGroup(c.Context(), groupID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if len(accounts) == 0 {
		return AppErrorResponse(c, apperr.NotFound("account group"))
	}

	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{
			ID:        a.ID,
			Email:     a.Email,
			Status:    string(a.Status),
			UpdatedAt: a.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return SuccessResponse(c, fiber.Map{"group_id": groupID, "accounts": views})
}

// ListVersions returns the append-only snapshot history, newest first.
func (h *AccountHandler) ListVersions(c *fiber.Ctx) error {
	groupID := c.Params("groupID")
	snapshots, err := h.accounts.ListSnapshots(c.Context(), groupID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if snapshots == nil {
		snapshots = []*domain.VersionSnapshot{}
	}
	return SuccessResponse(c, fiber.Map{"group_id": groupID, "versions": snapshots})
}
