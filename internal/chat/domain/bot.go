package domain

import (
	"regexp"
	"strings"
	"time"
)

// BotIDPrefix namespaces simulated participants away from real member ids
const BotIDPrefix = "bot:"

// BotParticipant simulated room participant, generated per room and never persisted
type BotParticipant struct {
	ID            string     `json:"id"`
	ProfileID     string     `json:"profile_id"`
	DisplayName   string     `json:"display_name"`
	Avatar        string     `json:"avatar,omitempty"`
	Online        bool       `json:"online"`
	Interests     []string   `json:"interests"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// BotIDFor derive the bot id of a profile
func BotIDFor(profileID string) string {
	return BotIDPrefix + profileID
}

// IsBotID report whether a sender id belongs to a simulated participant
func IsBotID(id string) bool {
	return strings.HasPrefix(id, BotIDPrefix)
}

// Eligible bot can speak at now: online and quiet for at least cooldown
func (b *BotParticipant) Eligible(now time.Time, cooldown time.Duration) bool {
	if !b.Online {
		return false
	}
	return b.LastMessageAt == nil || now.Sub(*b.LastMessageAt) >= cooldown
}

// TopicMessage canned room message with the interest tags it relates to
type TopicMessage struct {
	Text string
	Tags []string
}

// Topic room topic, its interest tags and canned messages
type Topic struct {
	ID       string
	Tags     []string
	Messages []TopicMessage
}

// KeywordClass category of a human message a bot can respond to
type KeywordClass string

const (
	// KeywordGreeting hello / hi / good morning
	KeywordGreeting KeywordClass = "greeting"
	// KeywordThanks thank you / cheers
	KeywordThanks KeywordClass = "thanks"
	// KeywordQuestion anything asking for help or info
	KeywordQuestion KeywordClass = "question"
	// KeywordCelebration good news
	KeywordCelebration KeywordClass = "celebration"
	// KeywordSupport struggling, needs support
	KeywordSupport KeywordClass = "support"
)

type keywordRule struct {
	class     KeywordClass
	pattern   *regexp.Regexp
	responses []string
}

// order matters, first match wins
var keywordRules = []keywordRule{
	{
		class:   KeywordSupport,
		pattern: regexp.MustCompile(`(?i)\b(struggl\w*|hard time|tough|overwhelm\w*|anxious|stress\w*|lonely|upset)\b`),
		responses: []string{
			"That sounds really hard, you're not alone in this.",
			"Sending support your way. Take it one step at a time.",
			"Have you been able to talk to your support coordinator about it?",
			"It's ok to have rough days. We're here if you want to chat.",
		},
	},
	{
		class:   KeywordCelebration,
		pattern: regexp.MustCompile(`(?i)\b(approved|congrat\w*|celebrat\w*|great news|good news|finally|milestone|yay)\b`),
		responses: []string{
			"That's fantastic news, congratulations!",
			"So happy for you, well deserved!",
			"What a win! Thanks for sharing it with us.",
		},
	},
	{
		class:   KeywordThanks,
		pattern: regexp.MustCompile(`(?i)\b(thanks|thank you|thx|cheers|appreciate\w*)\b`),
		responses: []string{
			"No worries at all!",
			"Happy to help.",
			"Anytime, that's what this group is for.",
		},
	},
	{
		class:   KeywordQuestion,
		pattern: regexp.MustCompile(`(?i)(\?\s*$|\b(how do|how can|does anyone|anyone know|what is|where can|should i)\b)`),
		responses: []string{
			"Good question, I had the same one last year.",
			"I'd check with your plan manager, they sorted that out for me.",
			"Not sure myself, but the local area coordinator might know.",
			"I think it depends on your plan, worth asking at your next review.",
		},
	},
	{
		class:   KeywordGreeting,
		pattern: regexp.MustCompile(`(?i)^\s*(hi|hey|hello|g'?day|good (morning|afternoon|evening))\b`),
		responses: []string{
			"Hey, welcome in!",
			"Hi there! How's your day going?",
			"Hello! Nice to see a new face.",
		},
	},
}

// ClassifyKeyword find the keyword class of text
func ClassifyKeyword(text string) (KeywordClass, bool) {
	for _, r := range keywordRules {
		if r.pattern.MatchString(text) {
			return r.class, true
		}
	}
	return "", false
}

// KeywordResponses canned responses of a class
func KeywordResponses(class KeywordClass) []string {
	for _, r := range keywordRules {
		if r.class == class {
			return r.responses
		}
	}
	return nil
}

// DefaultTopicID fallback when a room topic is unknown
const DefaultTopicID = "general"

var topics = map[string]Topic{
	DefaultTopicID: {
		ID:   DefaultTopicID,
		Tags: []string{"community", "weekend", "news", "hobbies"},
		Messages: []TopicMessage{
			{Text: "Anyone up to anything fun this weekend?", Tags: []string{"weekend"}},
			{Text: "Just joined a new community art class, loving it so far.", Tags: []string{"community", "hobbies"}},
			{Text: "Did anyone see the local news about the new accessible park?", Tags: []string{"news", "community"}},
			{Text: "Trying to pick up a new hobby, open to suggestions.", Tags: []string{"hobbies"}},
			{Text: "Nice to have a space like this to chat.", Tags: []string{"community"}},
		},
	},
	"support-workers": {
		ID:   "support-workers",
		Tags: []string{"workers", "rostering", "agencies", "independence"},
		Messages: []TopicMessage{
			{Text: "Finally found a support worker who gets my routine.", Tags: []string{"workers", "independence"}},
			{Text: "Anyone had luck with rostering apps for shifts?", Tags: []string{"rostering"}},
			{Text: "Switching agencies was the best thing I did this year.", Tags: []string{"agencies"}},
			{Text: "How do you handle last minute shift cancellations?", Tags: []string{"rostering", "workers"}},
			{Text: "My worker helped me cook a full meal solo today.", Tags: []string{"independence", "workers"}},
		},
	},
	"plan-management": {
		ID:   "plan-management",
		Tags: []string{"budget", "reviews", "invoices", "funding"},
		Messages: []TopicMessage{
			{Text: "My plan review is next month, any tips?", Tags: []string{"reviews"}},
			{Text: "Self-managing the core budget has been easier than I expected.", Tags: []string{"budget"}},
			{Text: "Invoices from providers keep coming in late for me.", Tags: []string{"invoices"}},
			{Text: "Got extra funding approved for capacity building.", Tags: []string{"funding", "budget"}},
			{Text: "Keeping a spreadsheet of claims really helped.", Tags: []string{"budget", "invoices"}},
		},
	},
	"therapy": {
		ID:   "therapy",
		Tags: []string{"physio", "ot", "speech", "wellbeing"},
		Messages: []TopicMessage{
			{Text: "Hydrotherapy has made a big difference for my mobility.", Tags: []string{"physio", "wellbeing"}},
			{Text: "Our OT recommended a new shower chair, game changer.", Tags: []string{"ot"}},
			{Text: "Speech sessions moved online and it works better for us.", Tags: []string{"speech"}},
			{Text: "Anyone combine physio with a gym program?", Tags: []string{"physio"}},
			{Text: "Making time for mindfulness this week.", Tags: []string{"wellbeing"}},
		},
	},
	"employment": {
		ID:   "employment",
		Tags: []string{"jobs", "training", "workplace", "volunteering"},
		Messages: []TopicMessage{
			{Text: "Started a part time job at the library last week.", Tags: []string{"jobs", "workplace"}},
			{Text: "Looking for accessible training courses, any ideas?", Tags: []string{"training"}},
			{Text: "My workplace set up a quiet room, really helps.", Tags: []string{"workplace"}},
			{Text: "Volunteering is a great way to build confidence.", Tags: []string{"volunteering"}},
			{Text: "Job interviews still make me nervous but getting better.", Tags: []string{"jobs"}},
		},
	},
}

// TopicByID room topic, falls back to the general topic
func TopicByID(topicID string) Topic {
	if t, ok := topics[topicID]; ok {
		return t
	}
	return topics[DefaultTopicID]
}

// MessagesMatchingInterests topic messages overlapping any of the interests
func (t Topic) MessagesMatchingInterests(interests []string) []string {
	var out []string
	for _, m := range t.Messages {
		if overlaps(m, interests) {
			out = append(out, m.Text)
		}
	}
	return out
}

// AllMessages every canned message text of the topic
func (t Topic) AllMessages() []string {
	out := make([]string, 0, len(t.Messages))
	for _, m := range t.Messages {
		out = append(out, m.Text)
	}
	return out
}

func overlaps(m TopicMessage, interests []string) bool {
	for _, tag := range m.Tags {
		for _, in := range interests {
			if strings.EqualFold(tag, in) || strings.Contains(strings.ToLower(m.Text), strings.ToLower(in)) {
				return true
			}
		}
	}
	return false
}
