// Command client is a terminal chat client. Lines are sent to the public
// room; /to <user> <text> unicasts, /users lists who is online, /ai asks for
// an analysis of the recent conversation, /quit exits.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"PetChat/client"
	"PetChat/global/config"
	"PetChat/logger"
	"PetChat/protocol"
	"PetChat/service/storage"
)

// displayName derives a short fallback name from a user id. Configured ids
// can be arbitrary text, so truncation counts runes, not bytes.
func displayName(userID string) string {
	r := []rune(userID)
	if len(r) > 8 {
		return string(r[:8])
	}
	return userID
}

// replayHistory prints the tail of the last session's conversation.
func replayHistory(cons *console, store storage.Store) {
	msgs, err := store.RecentMessages(context.Background(), 10)
	if err != nil || len(msgs) == 0 {
		return
	}
	fmt.Println("--- recent history ---")
	for _, m := range msgs {
		cons.remember(m.SenderName, m.Content)
		fmt.Printf("[%s] %s\n", m.SenderName, m.Content)
	}
	fmt.Println("----------------------")
}

type console struct {
	client.NopEvents
	mu     sync.Mutex
	online []protocol.UserInfo
	store  storage.Store // nil means no local persistence

	historyMu sync.Mutex
	history   []protocol.ContextMessage
}

func (c *console) remember(sender, content string) {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	c.history = append(c.history, protocol.ContextMessage{Sender: sender, Content: content})
	if len(c.history) > 20 {
		c.history = c.history[len(c.history)-20:]
	}
}

func (c *console) snapshot() []protocol.ContextMessage {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	out := make([]protocol.ContextMessage, len(c.history))
	copy(out, c.history)
	return out
}

func (c *console) OnConnectionStateChanged(s client.State) {
	fmt.Printf("* connection: %s\n", s)
}

func (c *console) OnMessage(m *protocol.ChatMessage) {
	c.remember(m.SenderName, m.Content)
	if c.store != nil {
		_ = c.store.AppendMessage(context.Background(), m)
	}
	if m.Target == protocol.TargetPublic {
		fmt.Printf("[%s] %s\n", m.SenderName, m.Content)
	} else {
		fmt.Printf("[%s -> you] %s\n", m.SenderName, m.Content)
	}
}

func (c *console) OnUserJoined(u protocol.UserInfo) {
	fmt.Printf("* %s joined\n", u.UserName)
}

func (c *console) OnUserLeft(userID string) {
	fmt.Printf("* %s left\n", userID)
}

func (c *console) OnOnlineUsers(users []protocol.UserInfo) {
	c.mu.Lock()
	c.online = users
	c.mu.Unlock()
	fmt.Printf("* %d user(s) online\n", len(users))
}

func (c *console) OnTyping(ts *protocol.TypingStatus) {
	if ts.IsTyping {
		fmt.Printf("* %s is typing...\n", ts.SenderName)
	}
}

func (c *console) OnAIEmotion(e *protocol.AIEmotion) {
	fmt.Printf("* mood: %v\n", e.Scores)
}

func (c *console) OnAIMemory(m *protocol.AIMemory) {
	for _, item := range m.Memories {
		if c.store != nil {
			_ = c.store.SaveMemory(context.Background(), item)
		}
		fmt.Printf("* noted (%s): %s\n", item.Category, item.Content)
	}
}

func (c *console) OnAISuggestion(s *protocol.AISuggestion) {
	fmt.Printf("* suggestion [%s]: %s\n", s.Title, s.Content)
}

func (c *console) listUsers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.online) == 0 {
		fmt.Println("* nobody else online")
		return
	}
	for _, u := range c.online {
		fmt.Printf("* %s (%s)\n", u.UserName, u.UserID)
	}
}

func main() {
	cfgPath := flag.String("config", "", "config file path (default ./petchat.yaml)")
	name := flag.String("name", "", "display name (overrides config)")
	flag.Parse()

	conf, err := config.Load(*cfgPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	logger.Setup(conf.Log.Level, conf.Log.File)
	defer logger.Sync()

	userID := conf.Client.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	userName := conf.Client.UserName
	if *name != "" {
		userName = *name
	}
	if userName == "" {
		userName = displayName(userID)
	}

	cons := &console{}
	if conf.Storage.Backend == "sqlite" {
		store, err := storage.NewSQLiteStore(conf.Storage.Path)
		if err != nil {
			logger.Warnf("local history disabled: %v", err)
		} else {
			cons.store = store
			defer store.Close()
			replayHistory(cons, store)
		}
	}

	mgr, err := client.NewManager(client.Config{
		Host:              conf.Client.Host,
		Port:              conf.Client.Port,
		UserID:            userID,
		UserName:          userName,
		Avatar:            conf.Client.Avatar,
		RegisterTimeout:   conf.Client.ConnectTimeout,
		HeartbeatInterval: conf.Client.HeartbeatInterval,
		PongTimeout:       conf.Client.HeartbeatTimeout,
		ReconnectBase:     conf.Client.ReconnectBase,
		ReconnectMax:      conf.Client.ReconnectMax,
	}, cons)
	if err != nil {
		logger.Errorf("client: %v", err)
		os.Exit(1)
	}
	mgr.Start()
	defer mgr.Stop()

	fmt.Printf("connected as %s, /quit to exit\n", userName)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "/quit":
			return
		case line == "/users":
			cons.listUsers()
		case line == "/ai":
			if err := mgr.RequestAIAnalysis(uuid.NewString(), cons.snapshot()); err != nil {
				fmt.Printf("* %v\n", err)
			}
		case strings.HasPrefix(line, "/to "):
			rest := strings.TrimPrefix(line, "/to ")
			parts := strings.SplitN(rest, " ", 2)
			if len(parts) != 2 {
				fmt.Println("* usage: /to <user_id> <text>")
				continue
			}
			if err := mgr.SendChat(parts[0], parts[1]); err != nil {
				fmt.Printf("* %v\n", err)
			}
		default:
			cons.remember(userName, line)
			if cons.store != nil {
				_ = cons.store.AppendMessage(context.Background(), &protocol.ChatMessage{
					Type:     protocol.KindChatMessage,
					SenderID: userID, SenderName: userName,
					Target: protocol.TargetPublic, Content: line,
				})
			}
			if err := mgr.SendChat(protocol.TargetPublic, line); err != nil {
				fmt.Printf("* %v\n", err)
			}
		}
	}
}
