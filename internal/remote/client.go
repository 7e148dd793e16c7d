package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/quillworks/quillsync/internal/crypto"
	"github.com/quillworks/quillsync/internal/qerr"
)

const (
	// defaultTimeout bounds each HTTP request to the store.
	defaultTimeout = 30 * time.Second

	// retryCount is the number of automatic retries for transient
	// failures (network errors, 5xx).
	retryCount = 2
)

// Client talks to a quillsync note store over HTTPS. It implements
// Store. All payloads leave the process encrypted; the key hash header
// lets the server reject a client holding the wrong workspace password
// before it stores garbage.
type Client struct {
	http        *resty.Client
	cipher      *crypto.Cipher
	workspaceID string
}

// ClientConfig holds the parameters needed to reach the store.
type ClientConfig struct {
	BaseURL     string
	Token       string
	WorkspaceID string
	KeyHash     string
	Timeout     time.Duration
}

// NewClient creates a store client.
func NewClient(cfg ClientConfig, cipher *crypto.Cipher) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(retryCount).
		SetAuthToken(cfg.Token).
		SetHeader("X-Key-Hash", cfg.KeyHash)

	httpClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})

	return &Client{
		http:        httpClient,
		cipher:      cipher,
		workspaceID: cfg.WorkspaceID,
	}
}

// Manifest implements Store.
func (c *Client) Manifest(ctx context.Context) ([]ManifestEntry, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/v1/workspaces/" + c.workspaceID + "/manifest")
	if err != nil {
		return nil, fmt.Errorf("manifest request: %w: %w", qerr.ErrTransport, err)
	}

	if err := mapStatus(resp); err != nil {
		return nil, err
	}

	var entries []ManifestEntry

	notes := gjson.GetBytes(resp.Body(), "notes")
	for _, note := range notes.Array() {
		title, err := c.cipher.DecryptTitle(
			note.Get("encryptedTitle").String(),
			note.Get("titleNonce").String(),
		)
		if err != nil {
			return nil, fmt.Errorf("decrypting title for note %s: %w", note.Get("noteId").String(), err)
		}

		entries = append(entries, ManifestEntry{
			NoteID:      note.Get("noteId").String(),
			Title:       title,
			ContentHash: note.Get("contentHash").String(),
			Version:     note.Get("version").Int(),
			Deleted:     note.Get("deleted").Bool(),
		})
	}

	return entries, nil
}

// CreateNote implements Store.
func (c *Client) CreateNote(ctx context.Context, title string, content []byte, contentHash string) (ManifestEntry, error) {
	encTitle, titleNonce, err := c.cipher.EncryptTitle(title)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("encrypting title: %w", err)
	}

	blob, err := c.cipher.EncryptContent(content)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("encrypting content: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"encryptedTitle": encTitle,
			"titleNonce":     titleNonce,
			"contentHash":    contentHash,
			"content":        base64.StdEncoding.EncodeToString(blob),
		}).
		Post("/api/v1/workspaces/" + c.workspaceID + "/notes")
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("create note request: %w: %w", qerr.ErrTransport, err)
	}

	if err := mapStatus(resp); err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{
		NoteID:      gjson.GetBytes(resp.Body(), "noteId").String(),
		Title:       title,
		ContentHash: contentHash,
		Version:     gjson.GetBytes(resp.Body(), "version").Int(),
	}, nil
}

// UpdateContent implements Store.
func (c *Client) UpdateContent(ctx context.Context, noteID string, content []byte, contentHash string) (ManifestEntry, error) {
	blob, err := c.cipher.EncryptContent(content)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("encrypting content: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"contentHash": contentHash,
			"content":     base64.StdEncoding.EncodeToString(blob),
		}).
		Patch("/api/v1/workspaces/" + c.workspaceID + "/notes/" + noteID)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("update content request: %w: %w", qerr.ErrTransport, err)
	}

	if err := mapStatus(resp); err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{
		NoteID:      noteID,
		ContentHash: contentHash,
		Version:     gjson.GetBytes(resp.Body(), "version").Int(),
	}, nil
}

// UpdateTitle implements Store.
func (c *Client) UpdateTitle(ctx context.Context, noteID, title string) (ManifestEntry, error) {
	encTitle, titleNonce, err := c.cipher.EncryptTitle(title)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("encrypting title: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"encryptedTitle": encTitle,
			"titleNonce":     titleNonce,
		}).
		Patch("/api/v1/workspaces/" + c.workspaceID + "/notes/" + noteID)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("update title request: %w: %w", qerr.ErrTransport, err)
	}

	if err := mapStatus(resp); err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{
		NoteID:  noteID,
		Title:   title,
		Version: gjson.GetBytes(resp.Body(), "version").Int(),
	}, nil
}

// DeleteNote implements Store.
func (c *Client) DeleteNote(ctx context.Context, noteID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/api/v1/workspaces/" + c.workspaceID + "/notes/" + noteID)
	if err != nil {
		return fmt.Errorf("delete note request: %w: %w", qerr.ErrTransport, err)
	}

	return mapStatus(resp)
}

// Content implements Store.
func (c *Client) Content(ctx context.Context, noteID string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/v1/workspaces/" + c.workspaceID + "/notes/" + noteID + "/content")
	if err != nil {
		return nil, fmt.Errorf("content request: %w: %w", qerr.ErrTransport, err)
	}

	if err := mapStatus(resp); err != nil {
		return nil, err
	}

	plaintext, err := c.cipher.DecryptContent(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decrypting content for note %s: %w", noteID, err)
	}

	return plaintext, nil
}

// mapStatus converts a non-2xx response to a sentinel-wrapped error.
// The server reports errors as {"error": "..."}.
func mapStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}

	msg := gjson.GetBytes(resp.Body(), "error").String()
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", qerr.ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", qerr.ErrConflict, msg)
	default:
		return fmt.Errorf("http %d: %s: %w", code, msg, qerr.ErrTransport)
	}
}
