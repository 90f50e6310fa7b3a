package app

import (
	"context"
	"fmt"
	"os"
	"testing"

	"chat_sync_service/internal/chat/domain"

	"github.com/cucumber/godog"
)

func TestChatSyncFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "chat_sync",
		ScenarioInitializer: InitializeChatSyncScenario,
		Options: &godog.Options{
			Paths:    []string{"./features"},
			Format:   "pretty",
			Output:   os.Stdout,
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fail()
	}
}

// syncWorld state shared by the steps of one scenario
type syncWorld struct {
	backend        memoryBackend
	sessions       map[string]*ChatSession
	conversationID string
}

func (w *syncWorld) session(name string) (*ChatSession, error) {
	s, ok := w.sessions[name]
	if !ok {
		return nil, fmt.Errorf("member %q is not connected", name)
	}
	return s, nil
}

func (w *syncWorld) membersAreConnected(a, b string) error {
	for _, name := range []string{a, b} {
		w.backend.db.AddProfile(domain.Profile{ID: name, DisplayName: name})
		s := NewChatSession(w.backend.deps, domain.LocalUser{ID: name, DisplayName: name})
		if _, err := s.Mount(context.Background()); err != nil {
			return err
		}
		w.sessions[name] = s
	}
	return nil
}

func (w *syncWorld) startsDirectConversation(name, peer string) error {
	s, err := w.session(name)
	if err != nil {
		return err
	}
	c, err := s.Conversations.StartDirectConversation(context.Background(), peer)
	if err != nil {
		return err
	}
	w.conversationID = c.ID
	return nil
}

func (w *syncWorld) opensConversation(name string, n int) error {
	s, err := w.session(name)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := s.OpenConversation(context.Background(), w.conversationID); err != nil {
			return err
		}
	}
	return nil
}

func (w *syncWorld) closesConversation(name string, n int) error {
	s, err := w.session(name)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		s.CloseConversation(w.conversationID)
	}
	return nil
}

func (w *syncWorld) sends(name, content string) error {
	s, err := w.session(name)
	if err != nil {
		return err
	}
	_, err = s.Messages.SendMessage(context.Background(), w.conversationID, content)
	return err
}

func (w *syncWorld) hasExactlyMessages(name string, n int, content string) error {
	s, err := w.session(name)
	if err != nil {
		return err
	}
	count := 0
	for _, m := range s.Store.Messages(w.conversationID) {
		if m.Content == content {
			count++
		}
	}
	if count != n {
		return fmt.Errorf("expected %d message %q, got %d", n, content, count)
	}
	return nil
}

func (w *syncWorld) seesLatestWithUnread(name, content string, unread int) error {
	s, err := w.session(name)
	if err != nil {
		return err
	}
	return checkListEntry(s.Store.ListConversations(), w.conversationID, content, unread)
}

func (w *syncWorld) marksRead(name string) error {
	s, err := w.session(name)
	if err != nil {
		return err
	}
	return s.Conversations.MarkConversationRead(context.Background(), w.conversationID)
}

func (w *syncWorld) unreadAfterRefetch(name string, unread int) error {
	s, err := w.session(name)
	if err != nil {
		return err
	}
	list, err := s.Conversations.FetchConversations(context.Background())
	if err != nil {
		return err
	}
	c, ok := findConversation(list, w.conversationID)
	if !ok {
		return fmt.Errorf("conversation %s missing after refetch", w.conversationID)
	}
	if c.UnreadCount != unread {
		return fmt.Errorf("expected %d unread after refetch, got %d", unread, c.UnreadCount)
	}
	return nil
}

func (w *syncWorld) liveChannels(n int) error {
	got := w.backend.pubsub.LiveChannels(domain.ConversationChannel(w.conversationID).Name())
	if got != n {
		return fmt.Errorf("expected %d live channels, got %d", n, got)
	}
	return nil
}

func (w *syncWorld) openedTimes(n int) error {
	got := w.backend.pubsub.OpenCount(domain.ConversationChannel(w.conversationID).Name())
	if got != n {
		return fmt.Errorf("expected channel opened %d times, got %d", n, got)
	}
	return nil
}

func checkListEntry(list []domain.Conversation, id, content string, unread int) error {
	c, ok := findConversation(list, id)
	if !ok {
		return fmt.Errorf("conversation %s not in list", id)
	}
	if c.LatestMessage == nil || c.LatestMessage.Content != content {
		return fmt.Errorf("expected latest message %q, got %+v", content, c.LatestMessage)
	}
	if c.UnreadCount != unread {
		return fmt.Errorf("expected %d unread, got %d", unread, c.UnreadCount)
	}
	return nil
}

// InitializeChatSyncScenario 註冊 Gherkin 與 Step Definition 的對應
func InitializeChatSyncScenario(ctx *godog.ScenarioContext) {
	w := &syncWorld{}

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		w.backend = newMemoryBackend()
		w.sessions = map[string]*ChatSession{}
		w.conversationID = ""
		return c, nil
	})
	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		for _, s := range w.sessions {
			s.Unmount()
		}
		return c, nil
	})

	ctx.Step(`^members "([^"]*)" and "([^"]*)" are connected$`, w.membersAreConnected)
	ctx.Step(`^"([^"]*)" starts a direct conversation with "([^"]*)"$`, w.startsDirectConversation)
	ctx.Step(`^"([^"]*)" opens the conversation (\d+) times$`, w.opensConversation)
	ctx.Step(`^"([^"]*)" closes the conversation (\d+) times$`, w.closesConversation)
	ctx.Step(`^"([^"]*)" sends "([^"]*)"$`, w.sends)
	ctx.Step(`^"([^"]*)" has exactly (\d+) message "([^"]*)" in the conversation$`, w.hasExactlyMessages)
	ctx.Step(`^"([^"]*)" sees latest message "([^"]*)" with (\d+) unread$`, w.seesLatestWithUnread)
	ctx.Step(`^"([^"]*)" marks the conversation read$`, w.marksRead)
	ctx.Step(`^"([^"]*)" still has (\d+) unread after a refetch$`, w.unreadAfterRefetch)
	ctx.Step(`^(\d+) channels? (?:is|are) live for the conversation$`, w.liveChannels)
	ctx.Step(`^the conversation channel was opened (\d+) times$`, w.openedTimes)
}
