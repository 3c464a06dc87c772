package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/gateway/internal/transport/ws"
)

var chatOpts struct {
	addr   string
	apiKey string
	userID int64
	chatID int64
	format string
	group  bool
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running gateway over WebSocket",
	Long: `Open an interactive chat session with a running gateway.

Lines starting with / are sent as commands (/reset, /help, ...).
Type /quit to exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatOpts.userID == 0 {
			return fmt.Errorf("--user-id is required")
		}
		client, err := dialChat(chatOpts.addr)
		if err != nil {
			return err
		}
		defer client.Close()

		out := cmd.OutOrStdout()
		ack, err := client.Hello(chatOpts.chatID, chatOpts.userID, chatOpts.apiKey, chatOpts.format)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("Connected to chat %d as user %d", ack.ChatID, ack.UserID)))
		fmt.Fprintln(out, infoStyle.Render("Type a message and press Enter. /quit to exit."))

		go client.ReadLoop(out)

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-interrupt:
				fmt.Fprintln(out, "\nInterrupted")
				return nil
			case <-client.done:
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				input := strings.TrimSpace(line)
				if input == "" {
					continue
				}
				if input == "/quit" {
					fmt.Fprintln(out, "Bye!")
					return nil
				}
				if err := client.Send(input, chatOpts.group); err != nil {
					fmt.Fprintln(out, errorStyle.Render("Send error:"), err)
				}
			}
		}
	},
}

func init() {
	f := chatCmd.Flags()
	f.StringVar(&chatOpts.addr, "addr", "ws://localhost:8080/ws", "WebSocket endpoint")
	f.StringVar(&chatOpts.apiKey, "api-key", "", "API key for the hello handshake")
	f.Int64Var(&chatOpts.userID, "user-id", 0, "User id to chat as")
	f.Int64Var(&chatOpts.chatID, "chat-id", 0, "Chat id (defaults to the user's private chat)")
	f.StringVar(&chatOpts.format, "format", "plain", "Reply format: plain, markdown or markdown_v2")
	f.BoolVar(&chatOpts.group, "group", false, "Send messages as addressed group messages")
	rootCmd.AddCommand(chatCmd)
}

type chatClient struct {
	conn *websocket.Conn
	done chan struct{}
}

func dialChat(addr string) (*chatClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &chatClient{conn: conn, done: make(chan struct{})}, nil
}

func (c *chatClient) Close() error {
	return c.conn.Close()
}

// Hello performs the handshake and waits for hello_ack.
func (c *chatClient) Hello(chatID, userID int64, apiKey, format string) (*ws.HelloAckMessage, error) {
	msg := ws.HelloMessage{
		BaseMessage: ws.BaseMessage{Type: ws.TypeHello, Ts: time.Now().UnixMilli(), ChatID: chatID},
		UserID:      userID,
		APIKey:      apiKey,
		Format:      format,
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("write hello: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read hello_ack: %w", err)
	}
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	switch base.Type {
	case ws.TypeHelloAck:
		var ack ws.HelloAckMessage
		if err := json.Unmarshal(data, &ack); err != nil {
			return nil, fmt.Errorf("unmarshal hello_ack: %w", err)
		}
		return &ack, nil
	case ws.TypeError:
		var e ws.ErrorMessage
		_ = json.Unmarshal(data, &e)
		return nil, fmt.Errorf("hello failed: %s - %s", e.Code, e.Message)
	default:
		return nil, fmt.Errorf("expected hello_ack, got: %s", base.Type)
	}
}

// Send sends one chat message.
func (c *chatClient) Send(text string, group bool) error {
	return c.conn.WriteJSON(ws.ChatMessage{
		BaseMessage: ws.BaseMessage{Type: ws.TypeMessage, Ts: time.Now().UnixMilli(), RequestID: uuid.New().String()},
		Text:        text,
		IsGroup:     group,
		Addressed:   group,
	})
}

// ReadLoop prints server frames until the connection closes.
func (c *chatClient) ReadLoop(out io.Writer) {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintln(out, errorStyle.Render("Connection closed:"), err)
			}
			return
		}
		fmt.Fprintln(out, renderFrame(data))
	}
}

func renderFrame(data []byte) string {
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return errorStyle.Render("invalid frame: ") + string(data)
	}
	switch base.Type {
	case ws.TypeReply:
		var r ws.ReplyMessage
		_ = json.Unmarshal(data, &r)
		line := assistantStyle.Render("assistant: ") + r.Text
		if r.ToolCalled {
			line += "\n" + infoStyle.Render("tools: "+strings.Join(r.Tools, ", "))
		}
		return line
	case ws.TypeError:
		var e ws.ErrorMessage
		_ = json.Unmarshal(data, &e)
		return errorStyle.Render("error ["+e.Code+"]: ") + e.Message
	default:
		return infoStyle.Render("["+base.Type+"] ") + string(data)
	}
}
