package chat

import (
	"sort"
	"strings"
	"time"
)

// FilterConversations returns the conversations whose participant name
// or last message content contains query, case-insensitively. An empty
// query returns the input slice unchanged.
func FilterConversations(convs []Conversation, query string) []Conversation {
	if query == "" {
		return convs
	}
	q := strings.ToLower(query)
	var out []Conversation
	for _, c := range convs {
		if strings.Contains(strings.ToLower(c.Participant.Name), q) {
			out = append(out, c)
			continue
		}
		if c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Content), q) {
			out = append(out, c)
		}
	}
	return out
}

// SortConversationsByLatestMessage orders conversations most recent
// first, by last message time when present, falling back to the
// conversation's creation time. The sort is stable so equal timestamps
// keep their input order. The input slice is not modified.
func SortConversationsByLatestMessage(convs []Conversation) []Conversation {
	out := make([]Conversation, len(convs))
	copy(out, convs)
	sort.SliceStable(out, func(i, j int) bool {
		return activityTime(out[i]).After(activityTime(out[j]))
	})
	return out
}

func activityTime(c Conversation) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.SentAt
	}
	return c.CreatedAt
}

// FormatMessageTime renders a timestamp the way the conversation list
// shows it: clock time today, weekday within a week, date otherwise.
func FormatMessageTime(t time.Time, now time.Time) string {
	t = t.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	if now.Sub(t) < 7*24*time.Hour {
		return t.Format("Mon")
	}
	return t.Format("2006-01-02")
}
