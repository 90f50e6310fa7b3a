package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/config"
	errprocess "chat_sync_service/pkg/err"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type botRoom struct {
	topicID   string
	bots      []*domain.BotParticipant
	onMessage func(domain.Message)

	// runCtx is nil while no activity is running
	runCtx context.Context
	cancel context.CancelFunc

	// held while onMessage runs; StopBotActivity waits on it after cancel
	deliver sync.Mutex

	// last human message a bot already answered
	answered domain.MessageID
}

// BotConversationEngine simulated participants of rooms. Each room has its own
// cancellable timer task; emitted messages go to the room's onMessage callback.
type BotConversationEngine struct {
	cfg      config.BotConfig
	profiles repository.ProfileRepository
	pool     repository.ProfilePoolCache
	store    *EntityStore

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time

	mu    sync.Mutex
	rng   *rand.Rand
	rooms map[string]*botRoom
}

// NewBotConversationEngine create BotConversationEngine
func NewBotConversationEngine(
	cfg config.BotConfig,
	profiles repository.ProfileRepository,
	pool repository.ProfilePoolCache,
	store *EntityStore,
) *BotConversationEngine {
	return &BotConversationEngine{
		cfg:      cfg,
		profiles: profiles,
		pool:     pool,
		store:    store,
		now:      time.Now,
		after:    time.After,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		rooms:    make(map[string]*botRoom),
	}
}

func (e *BotConversationEngine) profilePool(ctx context.Context) ([]domain.Profile, error) {
	if profiles, ok := e.pool.Get(ctx); ok {
		return profiles, nil
	}
	profiles, err := e.profiles.ListProfiles(ctx, e.cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	if err := e.pool.Set(ctx, profiles, e.cfg.PoolTTL); err != nil {
		logger.Log.Warn("profile pool cache write failed", zap.Error(err))
	}
	return profiles, nil
}

// InitializeRoomBots pick MinBots..MaxBots distinct profiles (never
// excludeUserID) as the room's bots. A room that already has bots keeps them.
func (e *BotConversationEngine) InitializeRoomBots(ctx context.Context, roomID, topicID, excludeUserID string) ([]domain.BotParticipant, error) {
	if roomID == "" {
		return nil, errprocess.New(domain.ErrValidation, "initialize room bots", "missing room id")
	}
	e.mu.Lock()
	if room, ok := e.rooms[roomID]; ok {
		bots := copyBots(room.bots)
		e.mu.Unlock()
		return bots, nil
	}
	e.mu.Unlock()

	pool, err := e.profilePool(ctx)
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrTransport, "initialize room bots", err)
	}
	candidates := make([]domain.Profile, 0, len(pool))
	seen := make(map[string]struct{}, len(pool))
	for _, p := range pool {
		if p.ID == "" || p.ID == excludeUserID {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		candidates = append(candidates, p)
	}

	topic := domain.TopicByID(topicID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if room, ok := e.rooms[roomID]; ok {
		return copyBots(room.bots), nil
	}

	n := e.cfg.MinBots
	if e.cfg.MaxBots > e.cfg.MinBots {
		n += e.rng.Intn(e.cfg.MaxBots - e.cfg.MinBots + 1)
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	e.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	bots := make([]*domain.BotParticipant, 0, n)
	for _, p := range candidates[:n] {
		bots = append(bots, &domain.BotParticipant{
			ID:          domain.BotIDFor(p.ID),
			ProfileID:   p.ID,
			DisplayName: p.DisplayName,
			Avatar:      p.Avatar,
			Online:      e.rng.Float64() < e.cfg.OnlineProbability,
			Interests:   e.pickInterests(topic.Tags),
		})
	}
	e.rooms[roomID] = &botRoom{topicID: topic.ID, bots: bots}
	logger.Log.Info("room bots initialized", zap.String("room", roomID), zap.String("topic", topic.ID), zap.Int("bots", len(bots)))
	return copyBots(bots), nil
}

// pickInterests 2-3 distinct tags, caller holds mu
func (e *BotConversationEngine) pickInterests(tags []string) []string {
	n := 2 + e.rng.Intn(2)
	if n > len(tags) {
		n = len(tags)
	}
	perm := e.rng.Perm(len(tags))
	out := make([]string, 0, n)
	for _, i := range perm[:n] {
		out = append(out, tags[i])
	}
	return out
}

// StartBotActivity run the room timer: one message after InitialDelay, then a
// tick every MinInterval..MaxInterval. Starting a running room is a no-op.
func (e *BotConversationEngine) StartBotActivity(roomID, topicID string, onMessage func(domain.Message)) error {
	e.mu.Lock()
	room, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return errprocess.New(domain.ErrValidation, "start bot activity", "room "+roomID+" has no bots")
	}
	if room.runCtx != nil {
		e.mu.Unlock()
		return nil
	}
	if topicID != "" {
		room.topicID = domain.TopicByID(topicID).ID
	}
	ctx, cancel := context.WithCancel(context.Background())
	room.runCtx = ctx
	room.cancel = cancel
	room.onMessage = onMessage
	e.mu.Unlock()

	metrics.BotRoomsActive.Inc()
	go e.run(ctx, roomID)
	return nil
}

func (e *BotConversationEngine) run(ctx context.Context, roomID string) {
	select {
	case <-ctx.Done():
		return
	case <-e.after(e.cfg.InitialDelay):
		e.emit(ctx, roomID, e.now(), true)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.after(e.jitter()):
			e.emit(ctx, roomID, e.now(), false)
		}
	}
}

func (e *BotConversationEngine) jitter() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	span := e.cfg.MaxInterval - e.cfg.MinInterval
	if span <= 0 {
		return e.cfg.MinInterval
	}
	return e.cfg.MinInterval + time.Duration(e.rng.Int63n(int64(span)+1))
}

// Tick one timer tick at now: with EmitProbability an eligible bot speaks.
// Returns the emitted message, ok is false when nothing was emitted.
func (e *BotConversationEngine) Tick(roomID string, now time.Time) (domain.Message, bool) {
	return e.emit(nil, roomID, now, false)
}

// emit force skips the probability roll. A non-nil ctx must still be live.
func (e *BotConversationEngine) emit(ctx context.Context, roomID string, now time.Time, force bool) (domain.Message, bool) {
	e.mu.Lock()
	room, ok := e.rooms[roomID]
	if !ok || (ctx != nil && (ctx.Err() != nil || room.runCtx != ctx)) {
		e.mu.Unlock()
		return domain.Message{}, false
	}
	if !force && e.rng.Float64() >= e.cfg.EmitProbability {
		e.mu.Unlock()
		return domain.Message{}, false
	}

	var eligible []*domain.BotParticipant
	for _, b := range room.bots {
		if b.Eligible(now, e.cfg.Cooldown) {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		e.mu.Unlock()
		return domain.Message{}, false
	}
	bot := eligible[e.rng.Intn(len(eligible))]
	content := e.compose(roomID, room, bot)
	at := now
	bot.LastMessageAt = &at
	onMessage := room.onMessage
	e.mu.Unlock()

	msg := domain.Message{
		ID:             domain.PersistedID("bot-msg-" + uuid.NewString()),
		ConversationID: roomID,
		SenderID:       bot.ID,
		Content:        content,
		CreatedAt:      now.UTC(),
		Status:         domain.MessageSent,
		Sender:         &domain.Profile{ID: bot.ID, DisplayName: bot.DisplayName, Avatar: bot.Avatar},
	}
	if onMessage == nil {
		metrics.BotMessages.Inc()
		return msg, true
	}

	room.deliver.Lock()
	defer room.deliver.Unlock()
	// the room may have been stopped since mu was released
	if ctx != nil && ctx.Err() != nil {
		return domain.Message{}, false
	}
	metrics.BotMessages.Inc()
	onMessage(msg)
	return msg, true
}

// compose answer the latest unanswered human message when it matches a keyword
// class, otherwise pick from the topic pool preferring the bot's interests.
// Caller holds mu.
func (e *BotConversationEngine) compose(roomID string, room *botRoom, bot *domain.BotParticipant) string {
	msgs := e.store.Messages(roomID)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if domain.IsBotID(m.SenderID) {
			continue
		}
		if m.ID == room.answered {
			break
		}
		if class, ok := domain.ClassifyKeyword(m.Content); ok {
			if responses := domain.KeywordResponses(class); len(responses) > 0 {
				room.answered = m.ID
				return responses[e.rng.Intn(len(responses))]
			}
		}
		break
	}

	topic := domain.TopicByID(room.topicID)
	pool := topic.MessagesMatchingInterests(bot.Interests)
	if len(pool) == 0 {
		pool = topic.AllMessages()
	}
	return pool[e.rng.Intn(len(pool))]
}

// StopBotActivity cancel the room timer, idempotent
func (e *BotConversationEngine) StopBotActivity(roomID string) {
	e.mu.Lock()
	room, ok := e.rooms[roomID]
	if !ok || room.cancel == nil {
		e.mu.Unlock()
		return
	}
	cancel := room.cancel
	room.cancel = nil
	room.runCtx = nil
	e.mu.Unlock()

	cancel()
	// wait out a delivery that passed its ctx check before cancel
	room.deliver.Lock()
	room.deliver.Unlock()
	metrics.BotRoomsActive.Dec()
}

// TeardownRoom stop the timer and drop the room's bots
func (e *BotConversationEngine) TeardownRoom(roomID string) {
	e.StopBotActivity(roomID)
	e.mu.Lock()
	delete(e.rooms, roomID)
	e.mu.Unlock()
}

// StopAll tear down every room
func (e *BotConversationEngine) StopAll() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.TeardownRoom(id)
	}
}

// Bots copy of the room's bots
func (e *BotConversationEngine) Bots(roomID string) []domain.BotParticipant {
	e.mu.Lock()
	defer e.mu.Unlock()
	if room, ok := e.rooms[roomID]; ok {
		return copyBots(room.bots)
	}
	return nil
}

// Running report whether the room timer is active
func (e *BotConversationEngine) Running(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	room, ok := e.rooms[roomID]
	return ok && room.runCtx != nil
}

func copyBots(bots []*domain.BotParticipant) []domain.BotParticipant {
	out := make([]domain.BotParticipant, 0, len(bots))
	for _, b := range bots {
		c := *b
		c.Interests = append([]string(nil), b.Interests...)
		if b.LastMessageAt != nil {
			t := *b.LastMessageAt
			c.LastMessageAt = &t
		}
		out = append(out, c)
	}
	return out
}
