package out

import (
	"context"
	"time"
)

// ProviderFolder is a folder as returned by the mail provider.
type ProviderFolder struct {
	ID               string
	DisplayName      string
	WellKnownName    string
	ParentFolderID   string
	TotalItemCount   int
	UnreadItemCount  int
	ChildFolderCount int
	IsHidden         bool
}

// ProviderMessage is a message summary as returned by the provider, already
// flattened out of the provider's JSON shape.
type ProviderMessage struct {
	UID            string // provider-unique id
	InternetID     string // RFC internet message id
	Subject        string
	FromAddr       string
	FromName       string
	To             []string
	Snippet        string
	SentAt         time.Time
	ReceivedAt     time.Time
	SizeBytes      int64
	HasAttachments bool
	IsRead         bool
	IsFlagged      bool
	Removed        bool // delta tombstone
}

// ListOptions controls one folder-scoped message listing call.
type ListOptions struct {
	Top       int
	Filter    string
	OrderBy   string
	SkipToken string
}

// MessagePage is one page of a skiptoken-paginated listing.
type MessagePage struct {
	Messages  []ProviderMessage
	SkipToken string // empty when this was the last page
}

// DeltaPage is one page of a delta walk. Exactly one of NextLink/DeltaLink is
// set on a well-formed response; DeltaLink terminates the walk.
type DeltaPage struct {
	Messages  []ProviderMessage
	NextLink  string
	DeltaLink string
}

// ProviderAttachment is attachment metadata from a content fetch.
type ProviderAttachment struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	IsInline    bool
	ContentID   string
}

// MessageContent is the full content of one message.
type MessageContent struct {
	Headers     string
	BodyPlain   string
	BodyHTML    string
	Attachments []ProviderAttachment
}

// OutgoingMail is a message to be sent through the provider.
type OutgoingMail struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
	IsHTML  bool
}

// MailProvider is the black-box mail provider HTTP API.
type MailProvider interface {
	ListRootFolders(ctx context.Context, accessToken string) ([]ProviderFolder, error)
	ListChildFolders(ctx context.Context, accessToken, folderID string) ([]ProviderFolder, error)

	ListMessages(ctx context.Context, accessToken, folderID string, opts ListOptions) (*MessagePage, error)

	// DeltaPage follows link, or starts a new delta walk for the folder when
	// link is empty.
	DeltaPage(ctx context.Context, accessToken, folderID, link string) (*DeltaPage, error)
	// LatestDeltaLink probes a fresh cursor without enumerating messages.
	LatestDeltaLink(ctx context.Context, accessToken, folderID string) (string, error)

	GetMessageContent(ctx context.Context, accessToken, msgUID string) (*MessageContent, error)

	SendMail(ctx context.Context, accessToken string, mail OutgoingMail) error
}
