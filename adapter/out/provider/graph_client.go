// Package provider implements the Microsoft Graph mail adapter.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"mailvault/core/port/out"
	"mailvault/pkg/apperr"
	"mailvault/pkg/httputil"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Per-call timeouts.
const (
	listTimeout    = 10 * time.Second
	defaultTimeout = 15 * time.Second
	sendTimeout    = 30 * time.Second
)

// defaultTop is the $top value on listing calls without an explicit size.
const defaultTop = 50

// skipTokenRe extracts the opaque pagination cursor from a nextLink URL.
var skipTokenRe = regexp.MustCompile(`\$skiptoken=([^&]+)`)

// =============================================================================
// Graph Client
// =============================================================================

// GraphClient implements out.MailProvider against the Graph REST API. All
// requests share one circuit breaker; only infrastructure failures trip it.
type GraphClient struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewGraphClient(log zerolog.Logger) *GraphClient {
	settings := gobreaker.Settings{
		Name:    "graph",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Business errors (auth, not-found, expired cursor) come from a
			// healthy endpoint and must not open the circuit.
			if err == nil {
				return true
			}
			return !apperr.Retryable(err) && !apperr.IsCode(err, apperr.CodeProviderError)
		},
	}

	return &GraphClient{
		http:    httputil.GraphClient(),
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log.With().Str("component", "graph_client").Logger(),
	}
}

// =============================================================================
// HTTP plumbing
// =============================================================================

func (c *GraphClient) do(ctx context.Context, token, method, rawURL string, timeout time.Duration, body, dest any) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (any, error) {
		var reqBody io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(callCtx, method, rawURL, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeProviderError, "graph request failed", http.StatusBadGateway)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusAccepted {
			return nil, nil
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if dest == nil {
				io.Copy(io.Discard, resp.Body)
				return nil, nil
			}
			return nil, json.NewDecoder(resp.Body).Decode(dest)
		}

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, c.mapStatus(resp.StatusCode, raw)
	})
	return err
}

func (c *GraphClient) doGet(ctx context.Context, token, rawURL string, timeout time.Duration, dest any) error {
	return c.do(ctx, token, http.MethodGet, rawURL, timeout, nil, dest)
}

// mapStatus translates a Graph error response to the core error taxonomy.
func (c *GraphClient) mapStatus(status int, body []byte) error {
	var gerr graphError
	_ = json.Unmarshal(body, &gerr)
	code := gerr.Error.Code

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.AuthRequired(fmt.Sprintf("graph rejected token (%d %s)", status, code))
	case status == http.StatusNotFound:
		return apperr.NotFound("graph resource")
	case status == http.StatusTooManyRequests:
		return apperr.ProviderRateLimited(fmt.Errorf("graph 429 %s", code))
	case status == http.StatusGone || code == "resyncRequired" || code == "SyncStateNotFound":
		return apperr.ResyncRequired(fmt.Errorf("graph %d %s", status, code))
	default:
		return apperr.ProviderError(status, string(body))
	}
}

// extractSkipToken pulls the skiptoken query parameter out of a nextLink.
func extractSkipToken(nextLink string) string {
	if nextLink == "" {
		return ""
	}
	m := skipTokenRe.FindStringSubmatch(nextLink)
	if len(m) < 2 {
		return ""
	}
	if decoded, err := url.QueryUnescape(m[1]); err == nil {
		return decoded
	}
	return m[1]
}

// =============================================================================
// Folders
// =============================================================================

const folderSelect = "id,displayName,wellKnownName,parentFolderId,totalItemCount,unreadItemCount,childFolderCount,isHidden"

func (c *GraphClient) listFolders(ctx context.Context, token, rawURL string) ([]out.ProviderFolder, error) {
	var folders []out.ProviderFolder
	for rawURL != "" {
		var page graphFolderList
		if err := c.doGet(ctx, token, rawURL, listTimeout, &page); err != nil {
			return nil, err
		}
		for i := range page.Value {
			folders = append(folders, convertFolder(&page.Value[i]))
		}
		rawURL = page.NextLink
	}
	return folders, nil
}

func (c *GraphClient) ListRootFolders(ctx context.Context, token string) ([]out.ProviderFolder, error) {
	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", defaultTop))
	params.Set("$select", folderSelect)
	return c.listFolders(ctx, token, graphBaseURL+"/me/mailFolders?"+params.Encode())
}

func (c *GraphClient) ListChildFolders(ctx context.Context, token, folderID string) ([]out.ProviderFolder, error) {
	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", defaultTop))
	params.Set("$select", folderSelect)
	return c.listFolders(ctx, token,
		graphBaseURL+"/me/mailFolders/"+url.PathEscape(folderID)+"/childFolders?"+params.Encode())
}

// =============================================================================
// Messages
// =============================================================================

const messageSelect = "id,internetMessageId,subject,bodyPreview,from,toRecipients,isRead,flag,hasAttachments,sentDateTime,receivedDateTime"

func (c *GraphClient) ListMessages(ctx context.Context, token, folderID string, opts out.ListOptions) (*out.MessagePage, error) {
	top := opts.Top
	if top <= 0 {
		top = defaultTop
	}

	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", top))
	params.Set("$select", messageSelect)
	if opts.Filter != "" {
		params.Set("$filter", opts.Filter)
	}
	if opts.OrderBy != "" {
		params.Set("$orderby", opts.OrderBy)
	}
	if opts.SkipToken != "" {
		params.Set("$skiptoken", opts.SkipToken)
	}

	rawURL := graphBaseURL + "/me/mailFolders/" + url.PathEscape(folderID) + "/messages?" + params.Encode()

	var page graphMessageList
	if err := c.doGet(ctx, token, rawURL, listTimeout, &page); err != nil {
		return nil, err
	}

	result := &out.MessagePage{SkipToken: extractSkipToken(page.NextLink)}
	for i := range page.Value {
		result.Messages = append(result.Messages, convertMessage(&page.Value[i]))
	}
	return result, nil
}

// DeltaPage follows link, or starts a new walk when link is empty.
func (c *GraphClient) DeltaPage(ctx context.Context, token, folderID, link string) (*out.DeltaPage, error) {
	rawURL := link
	if rawURL == "" {
		params := url.Values{}
		params.Set("$top", fmt.Sprintf("%d", defaultTop))
		rawURL = graphBaseURL + "/me/mailFolders/" + url.PathEscape(folderID) + "/messages/delta?" + params.Encode()
	}

	var page graphMessageList
	if err := c.doGet(ctx, token, rawURL, listTimeout, &page); err != nil {
		return nil, err
	}

	result := &out.DeltaPage{
		NextLink:  page.NextLink,
		DeltaLink: page.DeltaLink,
	}
	for i := range page.Value {
		result.Messages = append(result.Messages, convertMessage(&page.Value[i]))
	}
	return result, nil
}

// LatestDeltaLink asks for a cursor at the current mailbox state without
// enumerating any messages.
func (c *GraphClient) LatestDeltaLink(ctx context.Context, token, folderID string) (string, error) {
	rawURL := graphBaseURL + "/me/mailFolders/" + url.PathEscape(folderID) + "/messages/delta?$deltatoken=latest"

	var page graphMessageList
	if err := c.doGet(ctx, token, rawURL, listTimeout, &page); err != nil {
		return "", err
	}
	return page.DeltaLink, nil
}

// =============================================================================
// Content
// =============================================================================

func (c *GraphClient) GetMessageContent(ctx context.Context, token, msgUID string) (*out.MessageContent, error) {
	params := url.Values{}
	params.Set("$select", "internetMessageHeaders,body")
	rawURL := graphBaseURL + "/me/messages/" + url.PathEscape(msgUID) + "?" + params.Encode()

	var msg graphMessageContent
	if err := c.doGet(ctx, token, rawURL, defaultTimeout, &msg); err != nil {
		return nil, err
	}

	content := &out.MessageContent{
		Headers: joinHeaders(msg.InternetMessageHeaders),
	}
	if msg.Body.ContentType == "html" {
		content.BodyHTML = msg.Body.Content
	} else {
		content.BodyPlain = msg.Body.Content
	}

	var atts graphAttachmentList
	attURL := graphBaseURL + "/me/messages/" + url.PathEscape(msgUID) +
		"/attachments?$select=id,name,contentType,size,contentId,isInline"
	if err := c.doGet(ctx, token, attURL, defaultTimeout, &atts); err != nil {
		// Attachment metadata is best-effort; the body alone is still a
		// usable download result.
		c.log.Warn().Err(err).Str("msg_uid", msgUID).Msg("attachment listing failed")
	}
	for _, a := range atts.Value {
		content.Attachments = append(content.Attachments, out.ProviderAttachment{
			ID:          a.ID,
			Filename:    a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			IsInline:    a.IsInline,
			ContentID:   a.ContentID,
		})
	}

	return content, nil
}

// =============================================================================
// Send
// =============================================================================

func (c *GraphClient) SendMail(ctx context.Context, token string, mail out.OutgoingMail) error {
	contentType := "text"
	if mail.IsHTML {
		contentType = "html"
	}

	toRecipients := make([]map[string]any, 0, len(mail.To))
	for _, addr := range mail.To {
		toRecipients = append(toRecipients, map[string]any{
			"emailAddress": map[string]string{"address": addr},
		})
	}
	ccRecipients := make([]map[string]any, 0, len(mail.Cc))
	for _, addr := range mail.Cc {
		ccRecipients = append(ccRecipients, map[string]any{
			"emailAddress": map[string]string{"address": addr},
		})
	}

	body := map[string]any{
		"message": map[string]any{
			"subject": mail.Subject,
			"body": map[string]string{
				"contentType": contentType,
				"content":     mail.Body,
			},
			"toRecipients": toRecipients,
			"ccRecipients": ccRecipients,
		},
		"saveToSentItems": true,
	}

	// 202/204 means accepted; there is no response body.
	return c.do(ctx, token, http.MethodPost, graphBaseURL+"/me/sendMail", sendTimeout, body, nil)
}

var _ out.MailProvider = (*GraphClient)(nil)
