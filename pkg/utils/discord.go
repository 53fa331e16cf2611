package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest message Discord accepts
const MaxMessageLength = 2000

// FormatUserMention formats a user ID as a Discord mention
func FormatUserMention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// FormatChannelMention formats a channel ID as a Discord channel mention
func FormatChannelMention(channelID string) string {
	return fmt.Sprintf("<#%s>", channelID)
}

// ParseUserMention extracts the user ID from <@id> or <@!id>
func ParseUserMention(mention string) (string, bool) {
	id, ok := unwrap(mention, "<@")
	if !ok {
		return "", false
	}
	// Nickname mentions carry a leading !
	id = strings.TrimPrefix(id, "!")
	return id, isSnowflake(id)
}

// ParseChannelMention extracts the channel ID from <#id>. A bare numeric ID
// is accepted as well.
func ParseChannelMention(text string) (string, bool) {
	if isSnowflake(text) {
		return text, true
	}
	id, ok := unwrap(text, "<#")
	return id, ok && isSnowflake(id)
}

// FormatLeaderboardEntry formats a leaderboard line with rank, user, XP and level
func FormatLeaderboardEntry(rank int, userMention string, xp int64, level int) string {
	var medal string
	switch rank {
	case 1:
		medal = "🥇"
	case 2:
		medal = "🥈"
	case 3:
		medal = "🥉"
	default:
		medal = fmt.Sprintf("%d.", rank)
	}

	return fmt.Sprintf("%s %s - %d XP (level %d)", medal, userMention, xp, level)
}

// TruncateString truncates a string to maxLen runes and adds an ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}

func unwrap(text, prefix string) (string, bool) {
	if !strings.HasPrefix(text, prefix) || !strings.HasSuffix(text, ">") {
		return "", false
	}
	return text[len(prefix) : len(text)-1], true
}

func isSnowflake(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
