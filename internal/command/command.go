package command

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"

	"remindbot/internal/schedule"
)

type Kind string

const (
	KindAdd     Kind = "add"
	KindUpdate  Kind = "update"
	KindDelete  Kind = "delete"
	KindPause   Kind = "pause"
	KindUnpause Kind = "unpause"
	KindList    Kind = "list"
	KindHelp    Kind = "help"
)

var verbs = map[string]Kind{
	"add":        KindAdd,
	"send":       KindAdd,
	"spam":       KindAdd,
	"update":     KindUpdate,
	"delete":     KindDelete,
	"remove":     KindDelete,
	"pause":      KindPause,
	"deactivate": KindPause,
	"unpause":    KindUnpause,
	"activate":   KindUnpause,
	"list":       KindList,
	"help":       KindHelp,
}

// Command is a parsed chat command. Which fields are set depends on Kind:
//
//	Add:                   Recipient, Interval, Body
//	Update:                Timestamp, Interval
//	Delete/Pause/Unpause:  Timestamp
type Command struct {
	Kind Kind
	Verb string // as typed, lowercased

	Recipient string
	Interval  string
	Body      string
	Timestamp string
}

// Parse reads text as a command addressed to the bot named botUsername
// (without "@"). A leading mention of the bot is dropped, and so is a
// "/verb@botUsername" suffix. Commands addressed to another bot are ignored.
func Parse(text, botUsername string) (Command, bool) {
	tok, rest := nextField(text)
	if tok == "" {
		return Command{}, false
	}
	if isSelfMention(tok, botUsername) {
		tok, rest = nextField(rest)
	}

	verb := strings.TrimPrefix(tok, "/")
	if at := strings.IndexByte(verb, '@'); at >= 0 {
		if !strings.EqualFold(verb[at+1:], botUsername) {
			return Command{}, false
		}
		verb = verb[:at]
	}
	verb = strings.ToLower(verb)
	kind, ok := verbs[verb]
	if !ok {
		return Command{}, false
	}
	cmd := Command{Kind: kind, Verb: verb}

	switch kind {
	case KindList, KindHelp:
		if strings.TrimSpace(rest) != "" {
			return Command{}, false
		}
	case KindAdd:
		cmd.Recipient, rest = nextField(rest)
		cmd.Interval, rest = nextField(rest)
		if cmd.Interval == "" {
			return Command{}, false
		}
		cmd.Body = strings.TrimSpace(rest)
	case KindUpdate:
		args := strings.Fields(rest)
		if len(args) < 2 {
			return Command{}, false
		}
		cmd.Interval = args[len(args)-1]
		cmd.Timestamp = strings.Join(args[:len(args)-1], " ")
	case KindDelete, KindPause, KindUnpause:
		cmd.Timestamp = strings.Join(strings.Fields(rest), " ")
	}
	return cmd, true
}

var ErrBadInterval = errors.New("interval must be a positive whole number of seconds")

// ParseInterval parses a positive integer number of seconds, at most
// schedule.MaxInterval.
func ParseInterval(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.WithHint(errors.Wrapf(ErrBadInterval, "%q", raw), "example: 60")
	}
	if n < 1 {
		return 0, errors.Wrapf(ErrBadInterval, "%d", n)
	}
	if int64(n) > schedule.MaxInterval {
		return 0, errors.WithHintf(errors.Wrapf(ErrBadInterval, "%d is too long", n), "maximum: %d", schedule.MaxInterval)
	}
	return n, nil
}

// nextField pops the first whitespace-delimited token and returns the
// remainder untouched, so message bodies keep their line breaks.
func nextField(s string) (string, string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := strings.IndexFunc(s, unicode.IsSpace)
	if end < 0 {
		return s, ""
	}
	return s[:end], s[end:]
}

func isSelfMention(tok, botUsername string) bool {
	if botUsername == "" || !strings.HasPrefix(tok, "@") {
		return false
	}
	return strings.EqualFold(strings.TrimPrefix(tok, "@"), botUsername)
}
