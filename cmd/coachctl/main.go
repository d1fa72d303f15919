package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coachlink/coachlink/internal/profile"
	"github.com/coachlink/coachlink/internal/store"
)

// client talks to the daemon's control API over its Unix socket.
type client struct {
	http *http.Client
}

func newClient(socketPath string) *client {
	return &client{http: &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 30 * time.Second,
	}}
}

func (c *client) call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, "http://daemon"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s (status %d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(profile.SocketPath(name))

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "login":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: coachctl login <email> <password>")
			os.Exit(1)
		}
		cmdLogin(c, args[1], args[2])
	case "logout":
		run(c, http.MethodPost, "/v1/auth/logout", nil)
		fmt.Println("logged out")
	case "chats":
		cmdChats(c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: coachctl messages <chat-id>")
			os.Exit(1)
		}
		cmdMessages(c, args[1], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: coachctl send <chat-id> <text>")
			os.Exit(1)
		}
		cmdSend(c, args[1], strings.Join(args[2:], " "))
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: coachctl read <chat-id>")
			os.Exit(1)
		}
		run(c, http.MethodPost, "/v1/chats/"+args[1]+"/read", nil)
		fmt.Println("marked read")
	case "lifecycle":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: coachctl lifecycle <active|background|inactive>")
			os.Exit(1)
		}
		run(c, http.MethodPost, "/v1/lifecycle", map[string]string{"state": args[1]})
		fmt.Printf("lifecycle set to %s\n", args[1])
	case "unread":
		cmdUnread(c, *jsonFlag)
	case "plans":
		cmdPlans(c, *jsonFlag)
	case "tasks":
		cmdTasks(c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: coachctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show daemon status")
	fmt.Fprintln(os.Stderr, "  login <email> <pass>   Sign in and connect")
	fmt.Fprintln(os.Stderr, "  logout                 Sign out and clear local state")
	fmt.Fprintln(os.Stderr, "  chats                  List chats")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>     Show recent messages in a chat")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>  Send a message")
	fmt.Fprintln(os.Stderr, "  read <chat-id>         Mark a chat as read")
	fmt.Fprintln(os.Stderr, "  lifecycle <state>      Report app lifecycle (active|background|inactive)")
	fmt.Fprintln(os.Stderr, "  unread                 Show unread notification count")
	fmt.Fprintln(os.Stderr, "  plans                  List training plans")
	fmt.Fprintln(os.Stderr, "  tasks                  List tasks")
}

// run executes a call and exits on error.
func run(c *client, method, path string, body any) {
	if err := c.call(method, path, body, nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStatus(c *client, jsonOut bool) {
	var resp struct {
		Profile           string `json:"profile"`
		State             string `json:"state"`
		ReconnectAttempts int    `json:"reconnect_attempts"`
		Authenticated     bool   `json:"authenticated"`
		User              struct {
			Name string `json:"name"`
			Role string `json:"role"`
		} `json:"user"`
		Unread int `json:"unread"`
	}
	if err := c.call(http.MethodGet, "/v1/status", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile:       %s\n", resp.Profile)
	fmt.Printf("Connection:    %s", resp.State)
	if resp.ReconnectAttempts > 0 {
		fmt.Printf(" (attempt %d)", resp.ReconnectAttempts)
	}
	fmt.Println()
	if resp.Authenticated {
		fmt.Printf("Signed in as:  %s (%s)\n", resp.User.Name, resp.User.Role)
	} else {
		fmt.Println("Signed in as:  (not signed in)")
	}
	fmt.Printf("Unread:        %d\n", resp.Unread)
}

func cmdLogin(c *client, email, password string) {
	var resp struct {
		User struct {
			Name string `json:"name"`
			Role string `json:"role"`
		} `json:"user"`
	}
	err := c.call(http.MethodPost, "/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("signed in as %s (%s)\n", resp.User.Name, resp.User.Role)
}

func cmdChats(c *client, jsonOut bool) {
	var resp struct {
		Chats     []store.ChatSummary `json:"chats"`
		FromCache bool                `json:"from_cache"`
	}
	if err := c.call(http.MethodGet, "/v1/chats?refresh=1", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.FromCache {
		fmt.Println("(cached)")
	}
	for _, ch := range resp.Chats {
		marker := " "
		if ch.UnreadCount > 0 {
			marker = fmt.Sprintf("%d", ch.UnreadCount)
		}
		fmt.Printf("%-3s %-20s %-10s %s\n", marker, ch.ParticipantName, ch.ChatID, ch.LastMessage)
	}
}

func cmdMessages(c *client, chatID string, jsonOut bool) {
	var resp struct {
		Messages  []store.Message `json:"messages"`
		FromCache bool            `json:"from_cache"`
	}
	path := "/v1/chats/" + chatID + "/messages?refresh=1"
	if err := c.call(http.MethodGet, path, nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.FromCache {
		fmt.Println("(cached)")
	}
	// Stored newest first; print oldest first like a transcript.
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		ts := time.UnixMilli(m.CreatedAt).Format("15:04")
		fmt.Printf("[%s] %s: %s\n", ts, m.SenderName, m.Content)
	}
}

func cmdSend(c *client, chatID, text string) {
	var resp struct {
		ClientID string `json:"client_id"`
	}
	err := c.call(http.MethodPost, "/v1/messages", map[string]string{
		"chat_id": chatID,
		"content": text,
	}, &resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sent (%s)\n", resp.ClientID)
}

func cmdUnread(c *client, jsonOut bool) {
	var resp struct {
		Unread int `json:"unread"`
	}
	if err := c.call(http.MethodGet, "/v1/notifications", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("%d unread\n", resp.Unread)
}

func cmdPlans(c *client, jsonOut bool) {
	var resp struct {
		Plans []struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Status string `json:"status"`
		} `json:"plans"`
	}
	if err := c.call(http.MethodGet, "/v1/plans", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, p := range resp.Plans {
		fmt.Printf("%-10s %-8s %s\n", p.ID, p.Status, p.Title)
	}
}

func cmdTasks(c *client, jsonOut bool) {
	var resp struct {
		Tasks []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Completed bool   `json:"completed"`
		} `json:"tasks"`
	}
	if err := c.call(http.MethodGet, "/v1/tasks", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, task := range resp.Tasks {
		mark := "[ ]"
		if task.Completed {
			mark = "[x]"
		}
		fmt.Printf("%s %-10s %s\n", mark, task.ID, task.Title)
	}
}

func outputJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
