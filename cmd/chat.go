package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// chatFrame mirrors the webapp channel's wire frames.
type chatFrame struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Text      string         `json:"text,omitempty"`
	Callback  string         `json:"callback,omitempty"`
	Buttons   [][]chatButton `json:"buttons,omitempty"`
}

type chatButton struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

func chatCmd() *cobra.Command {
	var (
		addr    string
		userID  string
		message string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running gateway over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				if u, err := user.Current(); err == nil {
					userID = u.Username
				} else {
					userID = "cli"
				}
			}
			return runChat(addr, userID, message)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:18900", "gateway address")
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: current OS user)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	return cmd
}

func runChat(addr, userID, message string) error {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("display_name", userID)
	q.Set("session_id", "cli-"+uuid.NewString()[:8])
	wsURL := fmt.Sprintf("ws://%s/ws?%s", addr, q.Encode())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	var hello chatFrame
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if hello.Type != "connected" {
		return fmt.Errorf("unexpected handshake frame %q", hello.Type)
	}

	send := func(text string) error {
		return conn.WriteJSON(chatFrame{Type: "message", Text: text})
	}

	// Responses arrive asynchronously; print everything as it lands.
	frames := make(chan chatFrame)
	go func() {
		defer close(frames)
		for {
			var f chatFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	}()

	printFrame := func(f chatFrame) {
		debugDump(f)
		switch f.Type {
		case "message", "edit":
			fmt.Printf("\n%s\n", f.Text)
			for _, row := range f.Buttons {
				var labels []string
				for _, b := range row {
					labels = append(labels, fmt.Sprintf("[%s]", b.Text))
				}
				fmt.Println(strings.Join(labels, " "))
			}
		case "notice":
			fmt.Fprintf(os.Stderr, "(%s)\n", f.Text)
		case "error":
			fmt.Fprintf(os.Stderr, "error: %s\n", f.Text)
		}
	}

	if message != "" {
		if err := send(message); err != nil {
			return err
		}
		// Wait for the first substantive reply, skipping the placeholder.
		for f := range frames {
			if f.Type == "delete" {
				continue
			}
			if f.Type == "message" && f.Text == "Thinking..." {
				continue
			}
			printFrame(f)
			return nil
		}
		return fmt.Errorf("connection closed before reply")
	}

	fmt.Fprintf(os.Stderr, "MentorGate chat (session %s)\n", hello.SessionID)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit\n\n")

	input := make(chan string)
	go func() {
		defer close(input)
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Fprint(os.Stderr, "You: ")
			if !scanner.Scan() {
				return
			}
			input <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				fmt.Fprintln(os.Stderr, "connection closed")
				return nil
			}
			printFrame(f)
		case line, ok := <-input:
			if !ok || line == "exit" || line == "quit" {
				return nil
			}
			if line == "" {
				continue
			}
			if err := send(line); err != nil {
				return err
			}
		}
	}
}

// debugDump pretty-prints a frame when -v is set. Handy when the server
// adds frame types the client does not know yet.
func debugDump(f chatFrame) {
	if !verbose {
		return
	}
	b, _ := json.Marshal(f)
	fmt.Fprintf(os.Stderr, "<- %s\n", b)
}
