package eventhandler

import (
	"container/list"
	"sync"
	"time"

	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACHIEVEMENT HANDLER
// Собирает ленту достижений (новые значки и уровни) для всплывающих
// уведомлений клиента и пишет их в лог.
// ═══════════════════════════════════════════════════════════════════════════

// Виды достижений в ленте.
const (
	AchievementBadge   = "badge"
	AchievementLevelUp = "level_up"
)

// Achievement - одна запись ленты.
type Achievement struct {
	Type       string    `json:"type"`
	BadgeID    string    `json:"badge_id,omitempty"`
	Title      string    `json:"title"`
	Icon       string    `json:"icon,omitempty"`
	Level      int       `json:"level,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AchievementFeed хранит последние достижения пользователей в памяти.
// Число пользователей ограничено: при переполнении вытесняется тот,
// чья лента дольше всех не пополнялась и не читалась.
type AchievementFeed struct {
	mu       sync.Mutex
	perUser  int
	maxUsers int
	order    *list.List
	items    map[string]*list.Element
}

type feedEntry struct {
	userID string
	items  []Achievement
}

// NewAchievementFeed создаёт ленту на perUser записей для каждого из
// не более чем maxUsers пользователей.
func NewAchievementFeed(perUser, maxUsers int) *AchievementFeed {
	if perUser <= 0 {
		perUser = 20
	}
	if maxUsers <= 0 {
		maxUsers = 10000
	}
	return &AchievementFeed{
		perUser:  perUser,
		maxUsers: maxUsers,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Add добавляет запись, вытесняя самую старую при переполнении.
func (f *AchievementFeed) Add(userID string, a Achievement) {
	f.mu.Lock()
	defer f.mu.Unlock()

	el, ok := f.items[userID]
	if !ok {
		el = f.order.PushFront(&feedEntry{userID: userID})
		f.items[userID] = el
		if f.order.Len() > f.maxUsers {
			oldest := f.order.Back()
			f.order.Remove(oldest)
			delete(f.items, oldest.Value.(*feedEntry).userID)
		}
	} else {
		f.order.MoveToFront(el)
	}

	entry := el.Value.(*feedEntry)
	entry.items = append(entry.items, a)
	if len(entry.items) > f.perUser {
		entry.items = entry.items[len(entry.items)-f.perUser:]
	}
}

// Recent возвращает до limit последних записей, новые первыми.
func (f *AchievementFeed) Recent(userID string, limit int) []Achievement {
	f.mu.Lock()
	defer f.mu.Unlock()

	el, ok := f.items[userID]
	if !ok {
		return []Achievement{}
	}
	f.order.MoveToFront(el)

	items := el.Value.(*feedEntry).items
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	out := make([]Achievement, 0, limit)
	for i := len(items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, items[i])
	}
	return out
}

// Users возвращает число пользователей, чьи ленты хранятся.
func (f *AchievementFeed) Users() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order.Len()
}

// OnAchievementHandler обрабатывает события значков и уровней.
type OnAchievementHandler struct {
	feed   *AchievementFeed
	logger *logger.Logger
}

// NewOnAchievementHandler создаёт обработчик.
func NewOnAchievementHandler(feed *AchievementFeed, log *logger.Logger) *OnAchievementHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnAchievementHandler{
		feed:   feed,
		logger: log.Named("on-achievement"),
	}
}

// Register подписывает обработчик на события значков и уровней.
func (h *OnAchievementHandler) Register(sub shared.EventSubscriber) error {
	if err := sub.Subscribe(shared.EventBadgeUnlocked, h.Handle); err != nil {
		return err
	}
	return sub.Subscribe(shared.EventLevelUp, h.Handle)
}

// Handle реализует shared.EventHandler.
// Читает только Payload: события с других экземпляров приходят без конкретного типа.
func (h *OnAchievementHandler) Handle(event shared.Event) error {
	userID := event.AggregateID()
	payload := event.Payload()

	var a Achievement
	switch event.EventType() {
	case shared.EventBadgeUnlocked:
		a = Achievement{
			Type:    AchievementBadge,
			BadgeID: payloadString(payload, "badge_id"),
			Title:   payloadString(payload, "name"),
			Icon:    payloadString(payload, "icon"),
		}
		h.logger.Info("badge unlocked",
			logger.UserID(userID),
			logger.BadgeID(a.BadgeID),
		)
	case shared.EventLevelUp:
		level := payloadInt(payload, "new_level")
		a = Achievement{
			Type:  AchievementLevelUp,
			Title: "Level up!",
			Level: level,
		}
		h.logger.Info("level up",
			logger.UserID(userID),
			logger.LevelNumber(level),
		)
	default:
		return nil
	}

	a.OccurredAt = event.OccurredAt()
	h.feed.Add(userID, a)
	return nil
}

func payloadString(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

// payloadInt понимает и локальные события (int), и пришедшие через JSON (float64).
func payloadInt(p map[string]interface{}, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
