// Package mail provides the Microsoft Graph mail collaborator: token
// acquisition, inbox paging, and attachment download for shared mailboxes.
package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client defines the mail operations consumed by the ingestion step.
type Client interface {
	// FetchInbox returns metadata rows for inbox messages received on or
	// after the given date, oldest first.
	FetchInbox(ctx context.Context, mailbox string, since time.Time) ([]Message, error)
	// DownloadAttachments saves every file attachment of a message into
	// destDir and returns the saved paths.
	DownloadAttachments(ctx context.Context, mailbox, messageID, destDir string) ([]string, error)
}

// Options configures the Graph client.
type Options struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	BaseURL      string // default https://graph.microsoft.com/v1.0
	AuthorityURL string // default https://login.microsoftonline.com
	RatePerSec   float64
	PageSize     int
	HTTPClient   *http.Client
}

// graphClient implements Client against the Graph REST API using the OAuth2
// client-credentials flow.
type graphClient struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter

	token       string
	tokenExpiry time.Time
}

// New creates a Graph mail client.
func New(opts Options) Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if opts.AuthorityURL == "" {
		opts.AuthorityURL = "https://login.microsoftonline.com"
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 4
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &graphClient{
		opts:    opts,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// ensureToken acquires (or refreshes) the application token.
func (c *graphClient) ensureToken(ctx context.Context) error {
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return nil
	}

	form := url.Values{
		"client_id":     {c.opts.ClientID},
		"client_secret": {c.opts.ClientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
		"grant_type":    {"client_credentials"},
	}

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(c.opts.AuthorityURL, "/"), c.opts.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "mail: build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "mail: acquire token")
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return eris.Wrap(err, "mail: decode token response")
	}
	if resp.StatusCode != http.StatusOK || tok.AccessToken == "" {
		return eris.Errorf("mail: token request failed (%d): %s %s", resp.StatusCode, tok.Error, tok.ErrorDesc)
	}

	c.token = tok.AccessToken
	// Refresh one minute early.
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	zap.L().Debug("mail token acquired", zap.Time("expires", c.tokenExpiry))
	return nil
}

// get issues an authorized GET and decodes the JSON body into out.
func (c *graphClient) get(ctx context.Context, rawURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "mail: rate limiter")
	}
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return eris.Wrap(err, "mail: build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "mail: GET %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return eris.Errorf("mail: GET %s returned %d: %s", rawURL, resp.StatusCode, string(body))
	}
	return eris.Wrap(json.NewDecoder(resp.Body).Decode(out), "mail: decode response")
}

type messagePage struct {
	Value []struct {
		ID   string `json:"id"`
		Subject string `json:"subject"`
		From struct {
			EmailAddress struct {
				Address string `json:"address"`
			} `json:"emailAddress"`
		} `json:"from"`
		ReceivedDateTime time.Time `json:"receivedDateTime"`
		HasAttachments   bool      `json:"hasAttachments"`
		Attachments      []struct {
			Name     string `json:"name"`
			IsInline bool   `json:"isInline"`
		} `json:"attachments"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// FetchInbox pages through the mailbox inbox and returns one row per message.
func (c *graphClient) FetchInbox(ctx context.Context, mailbox string, since time.Time) ([]Message, error) {
	params := url.Values{
		"$orderby": {"receivedDateTime ASC"},
		"$select":  {"id,subject,from,receivedDateTime,hasAttachments"},
		"$filter":  {fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format("2006-01-02"))},
		"$top":     {fmt.Sprintf("%d", c.opts.PageSize)},
		"$expand":  {"attachments($select=id,name,contentType,size,isInline)"},
	}
	next := fmt.Sprintf("%s/users/%s/mailFolders/Inbox/messages?%s", c.opts.BaseURL, url.PathEscape(mailbox), params.Encode())

	var rows []Message
	for next != "" {
		var page messagePage
		if err := c.get(ctx, next, &page); err != nil {
			return nil, eris.Wrapf(err, "mail: fetch inbox %s", mailbox)
		}

		for _, m := range page.Value {
			row := Message{
				ID:             m.ID,
				Subject:        m.Subject,
				From:           m.From.EmailAddress.Address,
				ReceivedAt:     m.ReceivedDateTime,
				HasAttachments: m.HasAttachments,
				Mailbox:        mailbox,
			}
			for _, a := range m.Attachments {
				if !a.IsInline {
					row.AttachmentNames = append(row.AttachmentNames, a.Name)
				}
			}
			rows = append(rows, row)
		}
		next = page.NextLink // already fully encoded by Graph
	}

	zap.L().Info("inbox fetched",
		zap.String("mailbox", mailbox),
		zap.Int("messages", len(rows)),
	)
	return rows, nil
}

type attachmentPage struct {
	Value []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		ContentType  string `json:"contentType"`
		Size         int64  `json:"size"`
		IsInline     bool   `json:"isInline"`
		ContentBytes string `json:"contentBytes"`
		ODataType    string `json:"@odata.type"`
	} `json:"value"`
}

// DownloadAttachments saves each file attachment of a message under destDir.
// Inline images and non-file attachments are skipped.
func (c *graphClient) DownloadAttachments(ctx context.Context, mailbox, messageID, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "mail: create dir %s", destDir)
	}

	listURL := fmt.Sprintf("%s/users/%s/messages/%s/attachments?%s",
		c.opts.BaseURL, url.PathEscape(mailbox), url.PathEscape(messageID),
		url.Values{"$select": {"id,name,contentType,size,isInline,contentBytes"}}.Encode())

	var page attachmentPage
	if err := c.get(ctx, listURL, &page); err != nil {
		return nil, eris.Wrapf(err, "mail: list attachments for %s", messageID)
	}

	var saved []string
	for _, a := range page.Value {
		if a.IsInline || a.ContentBytes == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(a.ContentBytes)
		if err != nil {
			return saved, eris.Wrapf(err, "mail: decode attachment %s", a.Name)
		}
		path := filepath.Join(destDir, safeFilename(a.Name))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return saved, eris.Wrapf(err, "mail: write %s", path)
		}
		saved = append(saved, path)
	}

	zap.L().Debug("attachments saved",
		zap.String("mailbox", mailbox),
		zap.String("message_id", messageID),
		zap.Int("count", len(saved)),
	)
	return saved, nil
}

// safeFilename strips path separators and control characters from an
// attachment name so it cannot escape the destination directory.
func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.Map(func(r rune) rune {
		if r < 32 || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			return '_'
		}
		return r
	}, name)
}
