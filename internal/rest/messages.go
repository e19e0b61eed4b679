package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gfreires/feira/internal/chat"
)

type messageDTO struct {
	ID             string   `json:"id"`
	TempID         string   `json:"tempId,omitempty"`
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	Content        string   `json:"content"`
	Images         []string `json:"images,omitempty"`
	SentAtUnixMs   int64    `json:"sentAt"`
	Status         string   `json:"status,omitempty"`
}

func (d messageDTO) toMessage() chat.Message {
	return chat.Message{
		ID:             d.ID,
		TempID:         d.TempID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		Images:         d.Images,
		SentAt:         time.UnixMilli(d.SentAtUnixMs),
		Status:         chat.MessageStatus(d.Status),
	}
}

type messagesResponse struct {
	Messages []messageDTO `json:"messages"`
}

// Messages fetches one page of a conversation's history, oldest page
// number 1, each page ordered oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string, page, limit int) ([]chat.Message, error) {
	path := fmt.Sprintf("/api/chats/%s/messages?page=%d&limit=%d", conversationID, page, limit)
	var resp messagesResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(resp.Messages))
	for _, d := range resp.Messages {
		msgs = append(msgs, d.toMessage())
	}
	return msgs, nil
}

// SendWithImages uploads image attachments with optional text in one
// multipart request. The server persists the message and broadcasts it;
// the returned record is authoritative.
func (c *Client) SendWithImages(ctx context.Context, conversationID, content string, imagePaths []string) (chat.Message, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	if err := w.WriteField("content", content); err != nil {
		return chat.Message{}, fmt.Errorf("failed to write content field: %w", err)
	}
	for _, path := range imagePaths {
		f, err := os.Open(path)
		if err != nil {
			return chat.Message{}, fmt.Errorf("failed to open image %s: %w", path, err)
		}
		fw, err := w.CreateFormFile("images", filepath.Base(path))
		if err != nil {
			f.Close()
			return chat.Message{}, fmt.Errorf("failed to create form file for %s: %w", path, err)
		}
		if _, err := io.Copy(fw, f); err != nil {
			f.Close()
			return chat.Message{}, fmt.Errorf("failed to copy image %s: %w", path, err)
		}
		f.Close()
	}
	if err := w.Close(); err != nil {
		return chat.Message{}, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/api/chats/%s/messages", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &b)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var dto messageDTO
	if err := c.do(req, http.StatusCreated, &dto); err != nil {
		return chat.Message{}, err
	}
	return dto.toMessage(), nil
}
