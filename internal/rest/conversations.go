package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gfreires/feira/internal/chat"
)

type participantDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type conversationDTO struct {
	ID              string         `json:"id"`
	Participant     participantDTO `json:"participant"`
	CreatedAtUnixMs int64          `json:"createdAt"`
	LastMessage     *messageDTO    `json:"lastMessage,omitempty"`
}

type conversationsResponse struct {
	Conversations []conversationDTO `json:"conversations"`
}

// Conversations lists the caller's chat threads.
func (c *Client) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	var resp conversationsResponse
	if err := c.getJSON(ctx, "/api/chats", &resp); err != nil {
		return nil, err
	}
	convs := make([]chat.Conversation, 0, len(resp.Conversations))
	for _, d := range resp.Conversations {
		conv := chat.Conversation{
			ID: d.ID,
			Participant: chat.Participant{
				ID:        d.Participant.ID,
				Name:      d.Participant.Name,
				AvatarURL: d.Participant.AvatarURL,
			},
			CreatedAt: time.UnixMilli(d.CreatedAtUnixMs),
		}
		if d.LastMessage != nil {
			last := d.LastMessage.toMessage()
			conv.LastMessage = &last
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// CreateConversation opens (or returns the existing) thread with the
// seller of a listing.
func (c *Client) CreateConversation(ctx context.Context, listingID string) (chat.Conversation, error) {
	req := map[string]string{"listingId": listingID}
	var d conversationDTO
	if err := c.postJSON(ctx, "/api/chats", req, &d, http.StatusCreated); err != nil {
		return chat.Conversation{}, err
	}
	conv := chat.Conversation{
		ID: d.ID,
		Participant: chat.Participant{
			ID:        d.Participant.ID,
			Name:      d.Participant.Name,
			AvatarURL: d.Participant.AvatarURL,
		},
		CreatedAt: time.UnixMilli(d.CreatedAtUnixMs),
	}
	return conv, nil
}
