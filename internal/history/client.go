// Package history talks to the relay's REST side: conversation history and
// attachment uploads. The WS session stays the only message channel; uploads
// come back to the room as ordinary message frames.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   token,
		// Callers bound each request with a context; this is the backstop
		// for the slowest of them, a large attachment upload.
		HTTP: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// Item is one history entry as the server renders it. An empty Type means
// plain text; "file" and "audio" carry their respective url/name/type trios.
type Item struct {
	Type      string `json:"type,omitempty"`
	From      string `json:"from"`
	Text      string `json:"text,omitempty"`
	FileURL   string `json:"file_url,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	FileType  string `json:"file_type,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
	AudioName string `json:"audio_name,omitempty"`
	AudioType string `json:"audio_type,omitempty"`
	CreatedAt string `json:"created_at"`
}

// History fetches the recent window for one room, ascending by time. The
// server bounds both the window and the item count.
func (c *Client) History(ctx context.Context, chatID string) ([]Item, error) {
	var resp struct {
		OK           bool   `json:"ok"`
		Conversation []Item `json:"conversation"`
		ChatID       string `json:"chat_id"`
	}
	if err := c.postJSON(ctx, "/api/history", map[string]string{"chat_id": chatID}, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, errors.New("history refused")
	}
	return resp.Conversation, nil
}

// Upload is the server's record of a stored attachment. Message is the
// frame it broadcast to the room, kept raw; the live copy arrives over the
// WS and deduplication handles the overlap.
type Upload struct {
	FileURL   string          `json:"file_url"`
	FileName  string          `json:"file_name"`
	FileType  string          `json:"file_type"`
	AudioURL  string          `json:"audio_url"`
	AudioName string          `json:"audio_name"`
	AudioType string          `json:"audio_type"`
	Message   json.RawMessage `json:"message"`
}

// UploadFile stores one attachment in the room. chatID is required for
// staff roles; a user's own room is derived server side, pass "".
func (c *Client) UploadFile(ctx context.Context, chatID, name string, r io.Reader) (*Upload, error) {
	return c.upload(ctx, "/api/upload", "file", chatID, name, r)
}

// UploadAudio stores one voice note in the room.
func (c *Client) UploadAudio(ctx context.Context, chatID, name string, r io.Reader) (*Upload, error) {
	return c.upload(ctx, "/api/upload_audio", "audio", chatID, name, r)
}

func (c *Client) upload(ctx context.Context, path, part, chatID, name string, r io.Reader) (*Upload, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(part, name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if chatID != "" {
		if err := mw.WriteField("chat_id", chatID); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	// Rejections arrive as {ok:false, error} with a 4xx status; prefer the
	// named error over the bare status line.
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		Upload
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode/100 != 2 {
			return nil, fmt.Errorf("POST %s: status %s", path, resp.Status)
		}
		return nil, err
	}
	if !out.OK {
		if out.Error != "" {
			return nil, fmt.Errorf("upload rejected: %s", out.Error)
		}
		return nil, fmt.Errorf("POST %s: status %s", path, resp.Status)
	}
	return &out.Upload, nil
}

// postJSON performs a POST request, drains the response body, and decodes
// JSON into v. Non-2xx statuses are errors.
func (c *Client) postJSON(ctx context.Context, path string, body any, v any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST %s: status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}
