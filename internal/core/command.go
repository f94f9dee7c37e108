package core

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// MentionToken marks a message as addressed to the bot. Matching is a plain,
	// case-sensitive substring check, so "x@BotAIy" also counts as a mention.
	MentionToken = "@BotAI"
	BotUsername  = "BotAI"

	DefaultSummaryCount = 20
	MinSummaryCount     = 10
	MaxSummaryCount     = 20
)

// \p{Z} widens RE2's ASCII-only \s to Unicode separators such as U+00A0.
var summarizePattern = regexp.MustCompile(`(?i)^summarize[\s\p{Z}]*(\d*)$`)

type CommandKind int

const (
	CommandPlain CommandKind = iota
	CommandQuestion
	CommandSummary
)

func (k CommandKind) String() string {
	switch k {
	case CommandPlain:
		return "plain"
	case CommandQuestion:
		return "question"
	case CommandSummary:
		return "summary"
	default:
		return "unknown"
	}
}

// Command is the classification of one inbound message.
// Question and Grounded are set for CommandQuestion, Count for CommandSummary.
type Command struct {
	Kind     CommandKind
	Question string
	Grounded bool
	Count    int
}

// ParseCommand classifies text into a plain message, a question for the bot
// (optionally grounded on the attached image) or a summary request.
func ParseCommand(text string, hasImage bool) Command {
	if !strings.Contains(text, MentionToken) {
		return Command{Kind: CommandPlain}
	}

	question := strings.TrimSpace(strings.Replace(text, MentionToken, "", 1))

	if m := summarizePattern.FindStringSubmatch(question); m != nil {
		return Command{Kind: CommandSummary, Count: summaryCount(m[1])}
	}

	return Command{Kind: CommandQuestion, Question: question, Grounded: hasImage}
}

func summaryCount(raw string) int {
	count := DefaultSummaryCount
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			// only digits reach here, so the sole failure is overflow
			n = MaxSummaryCount
		}
		count = n
	}
	return min(max(count, MinSummaryCount), MaxSummaryCount)
}
