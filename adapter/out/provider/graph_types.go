package provider

import (
	"strings"
	"time"

	"mailvault/core/port/out"
)

// =============================================================================
// Graph API wire types
// =============================================================================

type graphFolderList struct {
	Value    []graphFolder `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

type graphFolder struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	WellKnownName    string `json:"wellKnownName"`
	ParentFolderID   string `json:"parentFolderId"`
	TotalItemCount   int    `json:"totalItemCount"`
	UnreadItemCount  int    `json:"unreadItemCount"`
	ChildFolderCount int    `json:"childFolderCount"`
	IsHidden         bool   `json:"isHidden"`
}

type graphMessageList struct {
	Value     []graphMessage `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

type graphRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	ID                string           `json:"id"`
	InternetMessageID string           `json:"internetMessageId"`
	Subject           string           `json:"subject"`
	BodyPreview       string           `json:"bodyPreview"`
	From              *graphRecipient  `json:"from"`
	ToRecipients      []graphRecipient `json:"toRecipients"`
	SentDateTime      time.Time        `json:"sentDateTime"`
	ReceivedDateTime  time.Time        `json:"receivedDateTime"`
	IsRead            bool             `json:"isRead"`
	HasAttachments    bool             `json:"hasAttachments"`
	Flag              *struct {
		FlagStatus string `json:"flagStatus"`
	} `json:"flag"`
	Removed *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

type graphHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessageContent struct {
	InternetMessageHeaders []graphHeader `json:"internetMessageHeaders"`
	Body                   graphBody     `json:"body"`
}

type graphAttachmentList struct {
	Value []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
		IsInline    bool   `json:"isInline"`
		ContentID   string `json:"contentId"`
	} `json:"value"`
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// Conversions
// =============================================================================

func convertFolder(f *graphFolder) out.ProviderFolder {
	return out.ProviderFolder{
		ID:               f.ID,
		DisplayName:      f.DisplayName,
		WellKnownName:    f.WellKnownName,
		ParentFolderID:   f.ParentFolderID,
		TotalItemCount:   f.TotalItemCount,
		UnreadItemCount:  f.UnreadItemCount,
		ChildFolderCount: f.ChildFolderCount,
		IsHidden:         f.IsHidden,
	}
}

func convertMessage(m *graphMessage) out.ProviderMessage {
	msg := out.ProviderMessage{
		UID:            m.ID,
		InternetID:     m.InternetMessageID,
		Subject:        m.Subject,
		Snippet:        m.BodyPreview,
		SentAt:         m.SentDateTime,
		ReceivedAt:     m.ReceivedDateTime,
		HasAttachments: m.HasAttachments,
		IsRead:         m.IsRead,
		Removed:        m.Removed != nil,
	}
	if m.From != nil {
		msg.FromAddr = m.From.EmailAddress.Address
		msg.FromName = m.From.EmailAddress.Name
	}
	for _, r := range m.ToRecipients {
		if r.EmailAddress.Address != "" {
			msg.To = append(msg.To, r.EmailAddress.Address)
		}
	}
	if m.Flag != nil && m.Flag.FlagStatus == "flagged" {
		msg.IsFlagged = true
	}
	return msg
}

func joinHeaders(headers []graphHeader) string {
	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	return b.String()
}
