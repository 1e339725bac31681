package telegram

import (
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf16"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
)

// userCache remembers users the bot has seen so "@username" mentions and ids
// of users without a username can be resolved. The Bot API offers no lookup
// by username.
type userCache struct {
	mu         sync.RWMutex
	byUsername map[string]kit.Target
	ids        map[int64]kit.Target
}

func newUserCache() *userCache {
	return &userCache{byUsername: map[string]kit.Target{}, ids: map[int64]kit.Target{}}
}

func (c *userCache) remember(u *tele.User) {
	if u == nil || u.ID == 0 {
		return
	}
	c.put(userTarget(u))
}

func (c *userCache) put(t kit.Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[t.ID] = t
	if t.Username != "" {
		c.byUsername[strings.ToLower(t.Username)] = t
	}
}

func (c *userCache) byName(username string) (kit.Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byUsername[strings.ToLower(strings.TrimPrefix(username, "@"))]
	return t, ok
}

func (c *userCache) byID(id int64) (kit.Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ids[id]
	return t, ok
}

// collapseMentions rewrites text so every mention is a single
// whitespace-free token and returns the mentioned users in order.
//
// A text_mention (a user without a username, linked by display name) spans
// arbitrary text such as "Bob Smith"; it becomes "@username" when the user
// has one, else the display name with whitespace replaced by "_". Plain
// "@username" mentions are kept verbatim and resolved through the cache;
// unknown usernames are left out of the result.
//
// Entity offsets are in UTF-16 code units.
func collapseMentions(text string, ents tele.Entities, users *userCache) (string, []kit.Target) {
	spans := make([]tele.MessageEntity, 0, len(ents))
	for _, e := range ents {
		if e.Type == tele.EntityMention || (e.Type == tele.EntityTMention && e.User != nil) {
			spans = append(spans, e)
		}
	}
	if len(spans) == 0 {
		return text, nil
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Offset < spans[j].Offset })

	units := utf16.Encode([]rune(text))
	var (
		b        strings.Builder
		mentions []kit.Target
		pos      int
	)
	for _, e := range spans {
		start, end := e.Offset, e.Offset+e.Length
		if start < pos || end > len(units) || start >= end {
			continue
		}
		b.WriteString(string(utf16.Decode(units[pos:start])))
		raw := string(utf16.Decode(units[start:end]))

		switch e.Type {
		case tele.EntityTMention:
			users.remember(e.User)
			t := userTarget(e.User)
			mentions = append(mentions, t)
			b.WriteString(mentionToken(t))
		default:
			if t, ok := users.byName(raw); ok {
				mentions = append(mentions, t)
			}
			b.WriteString(raw)
		}
		pos = end
	}
	b.WriteString(string(utf16.Decode(units[pos:])))
	return b.String(), mentions
}

func mentionToken(t kit.Target) string {
	if t.Username != "" {
		return "@" + t.Username
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, t.Name)
}
