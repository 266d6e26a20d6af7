package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"

	"marketchat/internal/client/api"
	"marketchat/internal/client/realtime"
	"marketchat/internal/client/session"
	"marketchat/internal/client/typing"
	"marketchat/internal/domain/entity"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/config"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const help = `commands:
  /chats              list conversations
  /start <productId>  start or resume the chat about a product
  /open <chatId>      open a chat window and focus it
  /close [chatId]     close a window (defaults to the focused one)
  /draft <text>       edit the draft without sending
  /quit
anything else is sent to the focused chat`

var (
	apiURLFlag string
	userFlag   string
)

var rootCmd = &cobra.Command{
	Use:           "chatcli",
	Short:         "Terminal client for marketplace chats",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&apiURLFlag, "api", "", "API base URL (overrides MARKETCHAT_API_URL)")
	rootCmd.Flags().StringVar(&userFlag, "user", "", "development user id to mint a token for (overrides MARKETCHAT_USER)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if apiURLFlag != "" {
		cfg.APIURL = apiURLFlag
	}
	if userFlag != "" {
		cfg.UserID = userFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Setup(os.Getenv("ENVIRONMENT"))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(cfg.APIURL, cfg.Token)
	token := cfg.Token
	if token == "" {
		token, err = client.DevToken(ctx, cfg.UserID)
		if err != nil {
			return fmt.Errorf("mint development token: %w", err)
		}
		client = client.WithToken(token)
	}

	self := cfg.UserID
	if self == "" {
		self, err = api.SubjectFromToken(token)
		if err != nil {
			return fmt.Errorf("identify token owner: %w", err)
		}
	}

	conn, err := realtime.Dial(ctx, cfg.APIURL, token)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	link := &socket{conn: conn}
	defer func() { link.current().Close() }()

	coordinator := typing.NewCoordinator(link, cfg.TypingIdleTimeout)
	defer coordinator.Stop()

	ui := &terminal{self: self}
	mgr := session.NewManager(self, client, conn, coordinator).
		OnNotification(ui.notify).
		OnEvent(ui.event)
	ui.mgr = mgr

	if err := mgr.LoadSidebar(ctx); err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	fmt.Printf("signed in as %s\n%s\n", self, help)
	ui.printSidebar()

	actions := make(chan func())
	go func() {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			line := scanner.Text()
			select {
			case actions <- func() { ui.command(ctx, line, stop) }:
			case <-ctx.Done():
				return
			}
		}
		stop()
	}()

	for {
		mgr.Loop(ctx, link.current().Events(), actions)
		if ctx.Err() != nil {
			break
		}

		fmt.Println("-- connection lost, reconnecting")
		link.current().Close()
		conn, err := redial(ctx, cfg.APIURL, token)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("reconnect: %w", err)
		}
		link.set(conn)
		mgr.SetRooms(conn)
		if err := mgr.Resync(ctx); err != nil {
			fmt.Printf("! resync: %v\n", err)
		}
		fmt.Println("-- reconnected")
		ui.printSidebar()
	}
	fmt.Println("bye")
	return nil
}

// socket lets the typing coordinator, whose timers fire on their own
// goroutines, follow the connection across reconnects.
type socket struct {
	mu   sync.Mutex
	conn *realtime.Conn
}

func (s *socket) current() *realtime.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *socket) set(conn *realtime.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *socket) Typing(chatID string) error     { return s.current().Typing(chatID) }
func (s *socket) StopTyping(chatID string) error { return s.current().StopTyping(chatID) }

// redial retries with capped exponential backoff. A rejected token is final.
func redial(ctx context.Context, apiURL, token string) (*realtime.Conn, error) {
	for attempt := 0; ; attempt++ {
		conn, err := realtime.Dial(ctx, apiURL, token)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, errors.CodeUnauthorized) {
			return nil, err
		}
		wait := retryablehttp.DefaultBackoff(500*time.Millisecond, 30*time.Second, attempt, nil)
		logger.Warn("Reconnect attempt %d failed, retrying in %s: %v", attempt+1, wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// terminal renders session state. Its methods run on the Loop goroutine.
type terminal struct {
	self string
	mgr  *session.Manager
	// shown counts the messages already printed per chat.
	shown map[string]int
}

func (t *terminal) focused() string {
	open := t.mgr.OpenChats()
	if len(open) == 0 {
		return ""
	}
	return open[0]
}

func (t *terminal) command(ctx context.Context, line string, quit func()) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit":
		quit()
	case "/help":
		fmt.Println(help)
	case "/chats":
		if err := t.mgr.LoadSidebar(ctx); err != nil {
			fmt.Printf("! %v\n", err)
		}
		t.printSidebar()
	case "/start":
		chat, err := t.mgr.StartChat(ctx, arg)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return
		}
		fmt.Printf("-- chat %s\n", chat.ID)
		t.printNew(chat.ID)
	case "/open":
		if err := t.mgr.OpenChat(ctx, arg); err != nil {
			fmt.Printf("! %v\n", err)
			return
		}
		fmt.Printf("-- chat %s\n", arg)
		t.printNew(arg)
	case "/close":
		chatID := arg
		if chatID == "" {
			chatID = t.focused()
		}
		t.mgr.CloseChat(chatID)
		fmt.Printf("-- closed %s\n", chatID)
	case "/draft":
		chatID := t.focused()
		if chatID == "" {
			fmt.Println("! open a chat first")
			return
		}
		t.mgr.UpdateDraft(chatID, arg)
	default:
		if strings.HasPrefix(name, "/") {
			fmt.Printf("! unknown command %s\n", name)
			return
		}
		chatID := t.focused()
		if chatID == "" {
			fmt.Println("! open a chat first")
			return
		}
		t.mgr.UpdateDraft(chatID, line)
		if _, err := t.mgr.Send(ctx, chatID); err != nil {
			fmt.Printf("! not sent, draft kept: %v\n", err)
			return
		}
		t.printNew(chatID)
	}
}

func (t *terminal) event(msg *ws.WSMessage) {
	switch msg.Type {
	case entity.EventReceiveMessage:
		t.printNew(msg.ChatID)
	case entity.EventTyping, entity.EventStopTyping:
		s, ok := t.mgr.Session(msg.ChatID)
		if !ok || !s.Open {
			return
		}
		if s.PeerTyping {
			fmt.Printf("   [%s] typing...\n", msg.ChatID)
		} else {
			fmt.Printf("   [%s] stopped typing\n", msg.ChatID)
		}
	case entity.EventMessagesRead:
		fmt.Printf("   [%s] read\n", msg.ChatID)
	case entity.EventError:
		fmt.Printf("! gateway: %s\n", msg.Data)
	}
}

func (t *terminal) notify(n session.Notification) {
	fmt.Printf("* new message from %s in %s: %s\n", n.Sender, n.ChatID, n.Text)
}

func (t *terminal) printNew(chatID string) {
	s, ok := t.mgr.Session(chatID)
	if !ok || !s.Open {
		return
	}
	if t.shown == nil {
		t.shown = make(map[string]int)
	}
	for _, msg := range s.Messages[min(t.shown[chatID], len(s.Messages)):] {
		who := msg.SenderID
		if msg.Sender != nil {
			who = msg.Sender.Name
		}
		if msg.SenderID == t.self {
			who = "you"
		}
		fmt.Printf("   [%s] %s: %s\n", chatID, who, msg.Text)
	}
	t.shown[chatID] = len(s.Messages)
}

func (t *terminal) printSidebar() {
	items := t.mgr.Sidebar()
	if len(items) == 0 {
		fmt.Println("-- no chats yet")
		return
	}
	for _, item := range items {
		badge := ""
		if item.Unread > 0 {
			badge = fmt.Sprintf(" (%d)", item.Unread)
		}
		fmt.Printf("   %s  %s with %s%s: %s\n", item.ChatID, item.ProductTitle, item.OtherUser, badge, item.LastMessage)
	}
}
