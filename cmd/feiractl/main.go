package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gfreires/feira/internal/auth"
	"github.com/gfreires/feira/internal/config"
	"github.com/gfreires/feira/internal/rest"
	"github.com/gfreires/feira/internal/session"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctl := &ctl{
		sessionName: sessionName,
		client:      udsClient(session.SocketPath(sessionName)),
		jsonOut:     *jsonFlag,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		ctl.status(ctx)
	case "connect":
		ctl.post(ctx, "/v1/connect")
	case "disconnect":
		ctl.post(ctx, "/v1/disconnect")
	case "reconnect":
		ctl.post(ctx, "/v1/reconnect")
	case "login":
		ctl.login(ctx, args[1:])
	case "chats":
		ctl.chats(ctx)
	case "open":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: feiractl open <chat-id>")
			os.Exit(1)
		}
		ctl.open(ctx, args[1])
	case "close":
		ctl.close(ctx)
	case "read":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: feiractl read <chat-id> <message-id>")
			os.Exit(1)
		}
		ctl.read(ctx, args[1], args[2])
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: feiractl messages <chat-id>")
			os.Exit(1)
		}
		ctl.messages(ctx, args[1])
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: feiractl send <chat-id> <text>")
			os.Exit(1)
		}
		ctl.send(ctx, args[1], strings.Join(args[2:], " "))
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: feiractl search <query>")
			os.Exit(1)
		}
		ctl.search(ctx, strings.Join(args[1:], " "))
	case "listings":
		ctl.listings(ctx, strings.Join(args[1:], " "))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: feiractl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show daemon status")
	fmt.Fprintln(os.Stderr, "  login                  Log in and store credentials")
	fmt.Fprintln(os.Stderr, "  connect                Connect to the realtime server")
	fmt.Fprintln(os.Stderr, "  disconnect             Disconnect from the realtime server")
	fmt.Fprintln(os.Stderr, "  reconnect              Force a reconnect")
	fmt.Fprintln(os.Stderr, "  chats                  List cached conversations")
	fmt.Fprintln(os.Stderr, "  open <chat-id>         Open a conversation (join room, load history)")
	fmt.Fprintln(os.Stderr, "  close                  Close the open conversation")
	fmt.Fprintln(os.Stderr, "  read <chat-id> <msg>   Acknowledge a message as read")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>     List cached messages for a conversation")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>  Queue a message for sending")
	fmt.Fprintln(os.Stderr, "  search <query>         Full-text search cached messages")
	fmt.Fprintln(os.Stderr, "  listings [query]       Search marketplace listings")
}

// udsClient dials the daemon's unix socket; the request host is ignored.
func udsClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

type ctl struct {
	sessionName string
	client      *http.Client
	jsonOut     bool
}

func (c *ctl) get(ctx context.Context, path string, out any) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://feira"+path, nil)
	if err != nil {
		fatal(err)
	}
	c.do(req, out)
}

func (c *ctl) do(req *http.Request, out any) {
	resp, err := c.client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon for session %q: %v\n", c.sessionName, err)
		fmt.Fprintln(os.Stderr, "is feirad running?")
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			fatal(fmt.Errorf("%s", apiErr.Error))
		}
		fatal(fmt.Errorf("daemon returned %s", resp.Status))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatal(err)
		}
	}
}

func (c *ctl) post(ctx context.Context, path string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://feira"+path, nil)
	if err != nil {
		fatal(err)
	}
	var out map[string]string
	c.do(req, &out)
	if c.jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("State: %s\n", out["state"])
}

type statusResponse struct {
	Session           string `json:"session"`
	State             string `json:"state"`
	SessionID         string `json:"sessionId"`
	UptimeMs          int64  `json:"uptimeMs"`
	ConversationCount int64  `json:"conversationCount"`
	MessageCount      int64  `json:"messageCount"`
}

func (c *ctl) status(ctx context.Context) {
	var resp statusResponse
	c.get(ctx, "/v1/status", &resp)
	if c.jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session:       %s\n", resp.Session)
	fmt.Printf("State:         %s\n", resp.State)
	if resp.SessionID != "" {
		fmt.Printf("Session ID:    %s\n", resp.SessionID)
	}
	fmt.Printf("Uptime:        %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("Conversations: %d\n", resp.ConversationCount)
	fmt.Printf("Messages:      %d\n", resp.MessageCount)
}

type conversationRow struct {
	ID                 string `json:"id"`
	ParticipantName    string `json:"participantName"`
	UnreadCount        int    `json:"unreadCount"`
	LastMessageAt      int64  `json:"lastMessageAt"`
	LastMessagePreview string `json:"lastMessagePreview"`
}

func (c *ctl) chats(ctx context.Context) {
	var resp struct {
		Conversations []conversationRow `json:"conversations"`
	}
	c.get(ctx, "/v1/chats?limit=100", &resp)
	if c.jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Conversations) == 0 {
		fmt.Println("No conversations cached.")
		return
	}
	for _, conv := range resp.Conversations {
		when := ""
		if conv.LastMessageAt > 0 {
			when = time.UnixMilli(conv.LastMessageAt).Format("2006-01-02 15:04")
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
		}
		fmt.Printf("%-36s %-20s %s %s%s\n", conv.ID, conv.ParticipantName, when, conv.LastMessagePreview, unread)
	}
}

func (c *ctl) open(ctx context.Context, chatID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://feira/v1/chats/"+url.PathEscape(chatID)+"/open", nil)
	if err != nil {
		fatal(err)
	}
	var out struct {
		Conversation string `json:"conversation"`
		Messages     int    `json:"messages"`
		HasMore      bool   `json:"hasMore"`
	}
	c.do(req, &out)
	if c.jsonOut {
		outputJSON(out)
		return
	}
	more := ""
	if out.HasMore {
		more = " (more available)"
	}
	fmt.Printf("Opened %s: %d messages loaded%s\n", out.Conversation, out.Messages, more)
}

func (c *ctl) close(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://feira/v1/chats/close", nil)
	if err != nil {
		fatal(err)
	}
	c.do(req, nil)
	if !c.jsonOut {
		fmt.Println("Closed.")
	}
}

func (c *ctl) read(ctx context.Context, chatID, messageID string) {
	body, _ := json.Marshal(map[string]string{"messageId": messageID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://feira/v1/chats/"+url.PathEscape(chatID)+"/read", bytes.NewReader(body))
	if err != nil {
		fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.do(req, nil)
	if !c.jsonOut {
		fmt.Println("Acknowledged.")
	}
}

type messageRow struct {
	MsgID   string `json:"msgId"`
	TempID  string `json:"tempId"`
	FromMe  bool   `json:"fromMe"`
	Content string `json:"content"`
	Status  string `json:"status"`
	SentAt  int64  `json:"sentAt"`
}

func (c *ctl) messages(ctx context.Context, chatID string) {
	var resp struct {
		Messages []messageRow `json:"messages"`
	}
	c.get(ctx, "/v1/chats/"+url.PathEscape(chatID)+"/messages?limit=50", &resp)
	if c.jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Messages) == 0 {
		fmt.Println("No messages cached.")
		return
	}
	for _, m := range resp.Messages {
		dir := "<-"
		if m.FromMe {
			dir = "->"
		}
		when := time.UnixMilli(m.SentAt).Format("2006-01-02 15:04")
		fmt.Printf("%s %s [%s] %s\n", when, dir, m.Status, m.Content)
	}
}

func (c *ctl) send(ctx context.Context, chatID, text string) {
	body, _ := json.Marshal(map[string]string{"content": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://feira/v1/chats/"+url.PathEscape(chatID)+"/messages", bytes.NewReader(body))
	if err != nil {
		fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Accepted bool   `json:"accepted"`
		TempID   string `json:"tempId"`
	}
	c.do(req, &out)
	if c.jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("Queued: %s\n", out.TempID)
}

func (c *ctl) search(ctx context.Context, query string) {
	var resp struct {
		Results []struct {
			Message messageRow `json:"message"`
			Snippet string     `json:"snippet"`
		} `json:"results"`
	}
	c.get(ctx, "/v1/search?q="+url.QueryEscape(query), &resp)
	if c.jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, r := range resp.Results {
		when := time.UnixMilli(r.Message.SentAt).Format("2006-01-02 15:04")
		fmt.Printf("%s %s\n", when, r.Snippet)
	}
}

func (c *ctl) listings(ctx context.Context, query string) {
	var resp struct {
		Listings []struct {
			ID         string `json:"id"`
			Title      string `json:"title"`
			PriceCents int64  `json:"priceCents"`
			Currency   string `json:"currency"`
		} `json:"listings"`
	}
	c.get(ctx, "/v1/listings?q="+url.QueryEscape(query), &resp)
	if c.jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Listings) == 0 {
		fmt.Println("No listings found.")
		return
	}
	for _, l := range resp.Listings {
		fmt.Printf("%-36s %s %.2f  %s\n", l.ID, l.Currency, float64(l.PriceCents)/100, l.Title)
	}
}

// login talks to the marketplace API directly, stores the token pair in
// the session dir, then asks a running daemon to connect. The daemon
// being down is not an error; it picks the credentials up on next start.
func (c *ctl) login(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (prompted when omitted)")
	_ = fs.Parse(args)

	reader := bufio.NewReader(os.Stdin)
	if *email == "" {
		fmt.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fatal(err)
		}
		*email = strings.TrimSpace(line)
	}
	if *password == "" {
		fmt.Print("Password: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fatal(err)
		}
		*password = strings.TrimSpace(line)
	}

	cfg := config.LoadOrDefault(session.ConfigPath())
	authClient := rest.NewAuthClient(cfg.APIBaseURL, zap.NewNop())
	pair, userID, err := authClient.Login(ctx, *email, *password)
	if err != nil {
		fatal(fmt.Errorf("login failed: %w", err))
	}

	if err := session.EnsureDir(c.sessionName); err != nil {
		fatal(err)
	}
	if err := auth.SaveCredentials(session.CredentialsPath(c.sessionName), pair); err != nil {
		fatal(err)
	}
	fmt.Printf("Logged in as %s.\n", userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://feira/v1/connect", nil)
	if err != nil {
		fatal(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		fmt.Println("Daemon not running; it will connect on next start.")
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK {
		fmt.Println("Daemon connected.")
	} else {
		fmt.Println("Credentials saved; daemon connect failed, try feiractl reconnect.")
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
