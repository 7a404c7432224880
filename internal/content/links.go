package content

import (
	"regexp"
	"strconv"
	"strings"
)

// LinkKind classifies an inbound chat text.
type LinkKind int

const (
	LinkNone LinkKind = iota
	LinkComment
	LinkPost
	LinkRandom
)

// String returns the label used in logs and metrics.
func (k LinkKind) String() string {
	switch k {
	case LinkComment:
		return "comment"
	case LinkPost:
		return "post"
	case LinkRandom:
		return "random"
	default:
		return "none"
	}
}

// Link is the result of classifying a message text.
type Link struct {
	Kind      LinkKind
	PostID    string
	CommentID int64
}

var (
	commentLinkRE = regexp.MustCompile(`dtf\.ru(/.*?)?/(\d+).*?\?comment=(\d+)`)
	postLinkRE    = regexp.MustCompile(`dtf\.ru(/.*?)?/(\d+)`)
)

// Classifier maps message texts to links. The zero value recognises the
// plain "/random" command.
type Classifier struct {
	// RandomCommand is the literal command text; "/random" when empty.
	RandomCommand string
	// BotUsername, when set, also accepts RandomCommand + "@" + BotUsername
	// as sent by Telegram clients in group chats.
	BotUsername string
}

// Classify applies the patterns most specific first: a post link with a
// comment anchor, then a bare post link, then the random command. Anything
// else is LinkNone. A comment anchor whose id does not fit an int64 names
// no comment and yields LinkNone rather than the whole post.
func (c Classifier) Classify(text string) Link {
	if m := commentLinkRE.FindStringSubmatch(text); m != nil {
		id, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return Link{Kind: LinkNone}
		}
		return Link{Kind: LinkComment, PostID: m[2], CommentID: id}
	}
	if m := postLinkRE.FindStringSubmatch(text); m != nil {
		return Link{Kind: LinkPost, PostID: m[2]}
	}
	if c.isRandom(text) {
		return Link{Kind: LinkRandom}
	}
	return Link{Kind: LinkNone}
}

func (c Classifier) isRandom(text string) bool {
	cmd := c.RandomCommand
	if cmd == "" {
		cmd = "/random"
	}
	if text == cmd {
		return true
	}
	if c.BotUsername == "" {
		return false
	}
	name, ok := strings.CutPrefix(text, cmd+"@")
	return ok && strings.EqualFold(name, c.BotUsername)
}

// Classify uses the default Classifier.
func Classify(text string) Link { return Classifier{}.Classify(text) }
