// ABOUTME: Terminal chat client for livechat-gateway over the WebSocket protocol
// ABOUTME: Messages are shown optimistically and reconciled against server echoes

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/livechat-gateway/internal/client"
)

// getToken returns the token from LIVECHAT_TOKEN or ~/.config/livechat/token.
func getToken() string {
	if token := os.Getenv("LIVECHAT_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "livechat", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Gateway WebSocket URL")
	token := flag.String("token", "", "Access token (default: LIVECHAT_TOKEN or ~/.config/livechat/token)")
	conversationID := flag.String("conversation", "", "Conversation to join on start")
	debug := flag.Bool("debug", false, "Log protocol details to stderr")
	flag.Parse()

	if *token == "" {
		*token = getToken()
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: no token (use --token or set LIVECHAT_TOKEN)")
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *url, *token, *conversationID, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, url, token, conversationID string, logger *slog.Logger) error {
	conn, err := client.Dial(ctx, url, token, logger)
	if err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	var active string
	sess := client.NewSession(conn, client.Hooks{
		OnMessage: func(m client.LocalMessage, _ client.Outcome) {
			printMessage(m)
		},
		OnNewConversation: func(id string) {
			yellow.Printf("\n* new conversation %s (/join %s)\n", id, id)
		},
		OnClosed: func(id, event string) {
			yellow.Printf("\n* conversation %s closed (%s)\n", id, event)
		},
	}, logger)
	defer sess.Close()

	id := sess.Identity()
	green.Printf("connected to %s\n", url)
	gray.Printf("identity %s (%s), connection %s\n", id.IdentityID, id.Role, id.ConnectionID)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	if conversationID != "" {
		if err := sess.Join(ctx, conversationID); err != nil {
			return fmt.Errorf("joining %s: %w", conversationID, err)
		}
		active = conversationID
		gray.Printf("joined %s\n", active)
	}

	lines := readLines(os.Stdin)
	for {
		if active != "" {
			fmt.Printf("[%s]> ", active)
		} else {
			fmt.Print("> ")
		}

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input = strings.TrimSpace(line)
		}

		if input == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(input, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/quit", "/exit", "/q":
			return nil

		case "/help":
			printHelp()

		case "/join":
			if arg == "" {
				fmt.Println("usage: /join <conversation-id>")
				continue
			}
			if err := sess.Join(ctx, arg); err != nil {
				fmt.Printf("[error] %v\n", err)
				continue
			}
			active = arg
			gray.Printf("joined %s\n", active)

		case "/leave":
			if active == "" {
				fmt.Println("not in a conversation")
				continue
			}
			if err := sess.Leave(ctx, active); err != nil {
				fmt.Printf("[error] %v\n", err)
				continue
			}
			gray.Printf("left %s\n", active)
			active = ""

		case "/list":
			printConversations(sess.Store().Conversations())

		case "/history":
			if active == "" {
				fmt.Println("No conversation selected. Use /join <id> first.")
				continue
			}
			for _, m := range sess.Store().Messages(active) {
				printMessage(m)
			}

		default:
			if strings.HasPrefix(cmd, "/") {
				fmt.Printf("unknown command %s\n", cmd)
				continue
			}
			if active == "" {
				fmt.Println("No conversation selected. Use /join <id> first.")
				continue
			}
			m, err := sess.Send(ctx, active, input)
			if err != nil {
				color.New(color.FgRed).Printf("[failed] %s: %v\n", m.Content, err)
				continue
			}
			printMessage(m)
		}
	}
}

// readLines feeds stdin lines into a channel that closes on EOF.
func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

func printMessage(m client.LocalMessage) {
	stamp := color.HiBlackString(m.CreatedAt.Local().Format("15:04"))
	who := color.CyanString(string(m.SenderRole))
	fmt.Printf("\r%s %s %s\n", stamp, who, m.Content)
}

func printConversations(convs []client.Conversation) {
	if len(convs) == 0 {
		fmt.Println("no conversations cached")
		return
	}
	for _, c := range convs {
		status := string(c.Status)
		if status == "" {
			status = "?"
		}
		fmt.Printf("  %s  %-7s  %d msgs  %s\n", c.ID, status, len(c.Messages), c.LastMessage)
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /join <id>     Join a conversation and make it active")
	fmt.Println("  /leave         Leave the active conversation")
	fmt.Println("  /list          Show cached conversations")
	fmt.Println("  /history       Show messages of the active conversation")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit")
}
