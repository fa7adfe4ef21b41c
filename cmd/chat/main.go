// Command chat is a terminal client that talks to the service over NATS.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

func main() {
	_ = godotenv.Load()

	natsURL := flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
	subject := flag.String("subject", envOr("NATS_REQUEST_SUBJECT", "defi.turn"), "request subject")
	userID := flag.String("user", envOr("CHAT_USER_ID", "cli-user"), "user id sent with every turn")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	flag.Parse()

	conn, err := nats.Connect(*natsURL, nats.Name("defibuddy-chat"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to NATS: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println("Connected. Type a message, /new for a fresh chat, /quit to exit.")

	var sessionID string
	newChat := false
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return
		case "/new":
			newChat = true
			fmt.Println("Starting a new chat.")
			continue
		}

		resp, err := send(conn, *subject, *timeout, models.TurnRequest{
			Query:     line,
			UserID:    *userID,
			SessionID: sessionID,
			NewChat:   newChat,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		newChat = false
		sessionID = resp.SessionID
		render(resp)
	}
}

func send(conn *nats.Conn, subject string, timeout time.Duration, req models.TurnRequest) (*models.TurnResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	msg, err := conn.Request(subject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var errResp models.ErrorResponse
	if err := json.Unmarshal(msg.Data, &errResp); err == nil && errResp.Code != "" {
		return nil, fmt.Errorf("%s: %s", errResp.Code, errResp.Error)
	}

	var resp models.TurnResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return &resp, nil
}

func render(resp *models.TurnResponse) {
	fmt.Println(resp.Text())
	if resp.Message != "" && resp.ClarificationQuestion != "" {
		fmt.Println(resp.ClarificationQuestion)
	}
	if q := resp.NextQuestion; q != nil && len(q.Suggestions) > 0 {
		fmt.Printf("  options: %s\n", strings.Join(q.Suggestions, ", "))
	}
	for _, s := range resp.SuggestedQueries {
		fmt.Printf("  try: %s\n", s)
	}
	if resp.ConfirmationRequired {
		fmt.Println("  ready to confirm")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
