// Package mail exposes read, flag, send and batch-download operations over
// synchronized messages.
package mail

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/pkg/apperr"
)

// TokenProvider yields a valid access token for a group.
type TokenProvider interface {
	GetAccessToken(ctx context.Context, groupID string) (string, error)
}

// =============================================================================
// Service
// =============================================================================

type Service struct {
	mails    out.MailStore
	accounts out.AccountStore
	tokens   TokenProvider
	provider out.MailProvider
	log      zerolog.Logger
}

func NewService(
	mails out.MailStore,
	accounts out.AccountStore,
	tokens TokenProvider,
	provider out.MailProvider,
	log zerolog.Logger,
) *Service {
	return &Service{
		mails:    mails,
		accounts: accounts,
		tokens:   tokens,
		provider: provider,
		log:      log.With().Str("component", "mail_service").Logger(),
	}
}

// =============================================================================
// Search & detail
// =============================================================================

// SearchResult is one page of matches plus pagination info.
type SearchResult struct {
	Messages []*domain.MailMessage `json:"messages"`
	Total    int                   `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

// Search runs a filtered search. Non-admin callers are restricted to the
// accounts their project assignments grant; a user with no assignments gets
// an empty result, never an error.
func (s *Service) Search(ctx context.Context, userID int64, isAdmin bool, q out.MailQuery) (*SearchResult, error) {
	if !isAdmin {
		visible, err := s.accounts.VisibleAccountIDs(ctx, userID)
		if err != nil {
			return nil, apperr.DatabaseError("resolve visible accounts", err)
		}
		if visible == nil {
			visible = []int64{}
		}
		q.VisibleAccounts = visible
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 200 {
		q.PageSize = 50
	}

	messages, total, err := s.mails.Search(ctx, q)
	if err != nil {
		return nil, apperr.DatabaseError("search mail", err)
	}
	return &SearchResult{
		Messages: messages,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	}, nil
}

// GetDetail returns one message with its body and attachments.
func (s *Service) GetDetail(ctx context.Context, id int64) (*out.MailDetail, error) {
	detail, err := s.mails.GetDetail(ctx, id)
	if err != nil {
		return nil, apperr.DatabaseError("get mail detail", err)
	}
	if detail == nil {
		return nil, apperr.NotFound("message")
	}
	return detail, nil
}

// =============================================================================
// Flags
// =============================================================================

// MarkRead adds the Read flag to a stored message. The provider copy is not
// touched; the local flags are the view state of this system.
func (s *Service) MarkRead(ctx context.Context, id int64) error {
	return s.addFlag(ctx, id, domain.FlagRead)
}

// MarkFlagged adds the Flagged flag to a stored message.
func (s *Service) MarkFlagged(ctx context.Context, id int64) error {
	return s.addFlag(ctx, id, domain.FlagFlagged)
}

func (s *Service) addFlag(ctx context.Context, id int64, flag string) error {
	msgs, err := s.mails.GetByIDs(ctx, []int64{id})
	if err != nil {
		return apperr.DatabaseError("get message", err)
	}
	if len(msgs) == 0 {
		return apperr.NotFound("message")
	}

	updated := domain.AddFlag(msgs[0].Flags, flag)
	if updated == msgs[0].Flags {
		return nil
	}
	if err := s.mails.UpdateFlags(ctx, id, updated); err != nil {
		return apperr.DatabaseError("update flags", err)
	}
	return nil
}

// =============================================================================
// Send
// =============================================================================

// Send submits an outgoing message through the group's mailbox.
func (s *Service) Send(ctx context.Context, groupID string, mail out.OutgoingMail) error {
	if len(mail.To) == 0 {
		return apperr.MissingField("to")
	}
	for _, addr := range append(append([]string{}, mail.To...), mail.Cc...) {
		if !strings.Contains(addr, "@") {
			return apperr.BadRequest("invalid recipient address: " + addr)
		}
	}
	if mail.Subject == "" && mail.Body == "" {
		return apperr.BadRequest("empty message")
	}

	token, err := s.tokens.GetAccessToken(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.provider.SendMail(ctx, token, mail); err != nil {
		return err
	}

	s.log.Info().Str("group_id", groupID).Int("recipients", len(mail.To)+len(mail.Cc)).Msg("mail sent")
	return nil
}
