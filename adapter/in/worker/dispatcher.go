package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/core/service/mail"
	"mailvault/core/service/sync"
	"mailvault/pkg/apperr"
)

// =============================================================================
// Handler - 작업 유형별 분기
// =============================================================================

type Handler struct {
	login      *LoginProcessor
	syncSvc    *sync.Service
	downloader *mail.Downloader
	board      out.StatusBoard
	log        zerolog.Logger
}

func NewHandler(login *LoginProcessor, syncSvc *sync.Service, downloader *mail.Downloader, board out.StatusBoard, log zerolog.Logger) *Handler {
	return &Handler{
		login:      login,
		syncSvc:    syncSvc,
		downloader: downloader,
		board:      board,
		log:        log.With().Str("component", "dispatcher").Logger(),
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	h.log.Debug().Str("task_id", msg.ID).Str("task_type", msg.Type).
		Str("group_id", msg.GroupID).Msg("processing task")

	switch msg.Type {
	case domain.TaskLogin:
		return h.login.Process(ctx, msg.GroupID)

	case domain.TaskSync:
		payload, err := ParsePayload[SyncPayload](msg)
		if err != nil {
			return apperr.BadRequest("malformed sync payload")
		}
		strategy := domain.SyncStrategy(payload.Strategy)
		if strategy == "" {
			strategy = domain.SyncAuto
		}
		_, err = h.syncSvc.Sync(ctx, msg.GroupID, strategy)
		return err

	case domain.TaskSyncFolders:
		_, err := h.syncSvc.DiscoverFolders(ctx, msg.GroupID)
		return err

	case domain.TaskDownload:
		payload, err := ParsePayload[DownloadPayload](msg)
		if err != nil {
			return apperr.BadRequest("malformed download payload")
		}
		_, err = h.downloader.Download(ctx, payload.MessageIDs, h.downloadProgress(ctx, msg))
		return err

	default:
		h.log.Warn().Str("task_type", msg.Type).Msg("unknown task type")
		return apperr.BadRequest("unknown task type " + msg.Type)
	}
}

// downloadProgress returns a callback that mirrors each settled message onto
// the task's status record, so polling clients see the batch advance.
func (h *Handler) downloadProgress(ctx context.Context, msg *Message) func(done, total int) {
	return func(done, total int) {
		st := domain.TaskStatus{
			TaskID:    msg.ID,
			GroupID:   msg.GroupID,
			Type:      msg.Type,
			State:     domain.TaskRunning,
			Message:   fmt.Sprintf("downloaded %d/%d", done, total),
			UpdatedAt: time.Now().Unix(),
		}
		if err := h.board.Set(ctx, msg.UserID, st, activeStatusTTL); err != nil {
			h.log.Warn().Err(err).Str("task_id", msg.ID).Msg("progress status write failed")
		}
	}
}

// =============================================================================
// LoginProcessor - 그룹 단위 로그인
// =============================================================================

// LoginProcessor drives the login automation for every alias of a group,
// stores the resulting credential and records per-account outcomes plus one
// version snapshot for the round.
type LoginProcessor struct {
	accounts   out.AccountStore
	automation out.LoginAutomation
	tokens     CredentialStore
	log        zerolog.Logger
}

// CredentialStore is the slice of the token service the login round needs.
type CredentialStore interface {
	StoreCredential(ctx context.Context, groupID string, triple *domain.TokenTriple) error
}

func NewLoginProcessor(accounts out.AccountStore, automation out.LoginAutomation, tokens CredentialStore, log zerolog.Logger) *LoginProcessor {
	return &LoginProcessor{
		accounts:   accounts,
		automation: automation,
		tokens:     tokens,
		log:        log.With().Str("component", "login_processor").Logger(),
	}
}

// loginOutcome is the per-account result serialized into the round snapshot.
type loginOutcome struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email"`
	Status    string `json:"status"`
}

func (p *LoginProcessor) Process(ctx context.Context, groupID string) error {
	accounts, err := p.accounts.ListByGroup(ctx, groupID)
	if err != nil {
		return apperr.DatabaseError("list accounts", err)
	}
	if len(accounts) == 0 {
		return apperr.NotFound("accounts for group " + groupID)
	}

	outcomes := make([]loginOutcome, 0, len(accounts))
	succeeded := 0

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return apperr.Cancelled("login round interrupted")
		}

		status := p.loginOne(ctx, groupID, account)
		if status == domain.AccountLoginSuccess {
			succeeded++
		}
		if err := p.accounts.UpdateStatus(ctx, account.ID, status); err != nil {
			p.log.Error().Err(err).Int64("account_id", account.ID).Msg("status update failed")
		}
		outcomes = append(outcomes, loginOutcome{
			AccountID: account.ID,
			Email:     account.Email,
			Status:    string(status),
		})
	}

	state, err := json.Marshal(outcomes)
	if err == nil {
		snap := &domain.VersionSnapshot{
			GroupID:   groupID,
			State:     string(state),
			Note:      "login round",
			CreatedBy: "system",
		}
		if err := p.accounts.SaveSnapshot(ctx, snap); err != nil {
			p.log.Error().Err(err).Str("group_id", groupID).Msg("snapshot save failed")
		}
	}

	p.log.Info().Str("group_id", groupID).
		Int("accounts", len(accounts)).Int("succeeded", succeeded).
		Msg("login round complete")

	if succeeded == 0 {
		return apperr.AuthRequired("no account of group " + groupID + " logged in")
	}
	return nil
}

func (p *LoginProcessor) loginOne(ctx context.Context, groupID string, account *domain.Account) domain.AccountStatus {
	triple, err := p.automation.Acquire(ctx, account.Email, account.Password)
	if err != nil {
		p.log.Warn().Err(err).Str("email", account.Email).Msg("login failed")
		if apperr.NeedsRelogin(err) {
			return domain.AccountPasswordError
		}
		return domain.AccountLoginFailure
	}

	if err := p.tokens.StoreCredential(ctx, groupID, triple); err != nil {
		p.log.Error().Err(err).Str("group_id", groupID).Msg("credential store failed")
		return domain.AccountLoginFailure
	}
	return domain.AccountLoginSuccess
}
