package discord

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voicexp/internal/database"
	"voicexp/internal/models"
	"voicexp/pkg/utils"
)

// leaderboardSize is how many members !voicexp top lists
const leaderboardSize = 10

// PolicyAdmin reads and writes guild voice configs. LoadGuildVoiceConfig
// reports read failures instead of falling back to the default, so edits are
// never saved over a config that could not be read.
type PolicyAdmin interface {
	GetGuildVoiceConfig(ctx context.Context, guildID string) *models.VoiceConfig
	LoadGuildVoiceConfig(ctx context.Context, guildID string) (*models.VoiceConfig, error)
	SaveGuildVoiceConfig(ctx context.Context, guildID string, cfg *models.VoiceConfig) error
}

// StatsReader reads the ledger and voice time totals
type StatsReader interface {
	GetVoiceXP(ctx context.Context, userID, guildID string) (models.VoiceXPEntry, error)
	TopVoiceXP(ctx context.Context, guildID string, limit int) ([]models.VoiceXPEntry, error)
	GetVoiceHours(ctx context.Context, userID, guildID string) (int64, error)
	GetVoiceChannelHours(ctx context.Context, userID, guildID string) ([]database.VoiceChannelHours, error)
}

// AdminCheck reports whether a member may change the guild's voice config
type AdminCheck func(guildID, userID, channelID string) bool

// Message is a text message that may carry a command
type Message struct {
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
}

// Commands answers the prefix commands of the bot
type Commands struct {
	prefix  string
	tracker Tracker
	policy  PolicyAdmin
	stats   StatsReader
	isAdmin AdminCheck
	clock   func() time.Time
	log     zerolog.Logger
}

// NewCommands creates the command handler. A nil isAdmin denies every admin
// command.
func NewCommands(prefix string, tracker Tracker, policy PolicyAdmin, stats StatsReader, isAdmin AdminCheck, log zerolog.Logger) *Commands {
	if isAdmin == nil {
		isAdmin = func(string, string, string) bool { return false }
	}
	return &Commands{
		prefix:  prefix,
		tracker: tracker,
		policy:  policy,
		stats:   stats,
		isAdmin: isAdmin,
		clock:   time.Now,
		log:     log.With().Str("component", "commands").Logger(),
	}
}

// Handle returns the reply to m, or "" when m is not a command
func (c *Commands) Handle(ctx context.Context, m Message) string {
	fields := strings.Fields(m.Content)
	if len(fields) == 0 || fields[0] != c.prefix || m.GuildID == "" {
		return ""
	}
	args := fields[1:]

	if len(args) == 0 {
		return c.handleMember(ctx, m.GuildID, m.AuthorID, m.AuthorName)
	}
	if userID, ok := utils.ParseUserMention(args[0]); ok {
		return c.handleMember(ctx, m.GuildID, userID, utils.FormatUserMention(userID))
	}

	switch cmd := strings.ToLower(args[0]); cmd {
	case "top":
		return c.handleTop(ctx, m)
	case "config":
		return c.handleConfig(ctx, m)
	case "help":
		return c.usage()
	case "enable", "disable", "preset", "multiplier", "track", "exclude", "include":
		if !c.isAdmin(m.GuildID, m.AuthorID, m.ChannelID) {
			return "You need the Manage Server permission to change voice XP settings."
		}
		return c.handleAdmin(ctx, m, cmd, args[1:])
	default:
		return c.usage()
	}
}

func (c *Commands) usage() string {
	p := c.prefix
	return strings.Join([]string{
		"Voice XP commands:",
		p + " [@member] - live session and voice XP",
		p + " top - voice XP leaderboard",
		p + " config - this server's voice XP settings",
		"Admin: " + p + " enable|disable, " + p + " preset <" + strings.Join(models.PresetNames, "|") + ">, " +
			p + " multiplier <x>, " + p + " track <#channel> <track>, " + p + " exclude|include <#channel>",
	}, "\n")
}

// handleMember reports the live session, XP and voice time of one member
func (c *Commands) handleMember(ctx context.Context, guildID, userID, name string) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("🔊 %s", name))

	if s, ok := c.tracker.Session(guildID, userID); ok {
		elapsed := int64(c.clock().Sub(s.StartTime) / time.Second)
		lines = append(lines, fmt.Sprintf("Live in %s for %s, %s, %d XP pending",
			utils.FormatChannelMention(s.ChannelID), utils.FormatDuration(elapsed), s.CurrentActivity, s.PendingXP))
	} else {
		lines = append(lines, "Not in a tracked voice channel")
	}

	entry, err := c.stats.GetVoiceXP(ctx, userID, guildID)
	if err != nil {
		c.log.Error().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("error getting voice xp")
		return "Could not load voice XP right now."
	}
	level, into, needed := database.LevelProgress(entry.TotalXP)
	lines = append(lines, fmt.Sprintf("Voice XP: %d, level %d (%d/%d to next)", entry.TotalXP, level, into, needed))

	totalSeconds, err := c.stats.GetVoiceHours(ctx, userID, guildID)
	if err != nil {
		c.log.Warn().Err(err).Msg("error getting total voice hours")
	}
	lines = append(lines, "Voice time: "+utils.FormatDuration(totalSeconds))

	channelHours, err := c.stats.GetVoiceChannelHours(ctx, userID, guildID)
	if err != nil {
		c.log.Warn().Err(err).Msg("error getting voice channel hours")
	}
	for i, ch := range channelHours {
		if i == 3 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s: %s", utils.FormatChannelMention(ch.ChannelID), utils.FormatDuration(ch.TotalSeconds)))
	}

	return utils.TruncateString(strings.Join(lines, "\n"), utils.MaxMessageLength)
}

func (c *Commands) handleTop(ctx context.Context, m Message) string {
	entries, err := c.stats.TopVoiceXP(ctx, m.GuildID, leaderboardSize)
	if err != nil {
		c.log.Error().Err(err).Str("guild_id", m.GuildID).Msg("error getting voice leaderboard")
		return "Could not load the leaderboard right now."
	}
	if len(entries) == 0 {
		return "No voice XP earned on this server yet."
	}

	lines := []string{"🏆 Voice XP leaderboard"}
	for i, e := range entries {
		lines = append(lines, utils.FormatLeaderboardEntry(i+1, utils.FormatUserMention(e.UserID), e.TotalXP, e.Level))
	}
	return utils.TruncateString(strings.Join(lines, "\n"), utils.MaxMessageLength)
}

func (c *Commands) handleConfig(ctx context.Context, m Message) string {
	cfg := c.policy.GetGuildVoiceConfig(ctx, m.GuildID)

	state := "enabled"
	if !cfg.Enabled {
		state = "disabled"
	}
	daily := "unlimited"
	if cfg.DailyXPLimit > 0 {
		daily = strconv.Itoa(cfg.DailyXPLimit)
	}

	lines := []string{
		"⚙️ Voice XP is " + state,
		"Global multiplier: " + utils.FormatMultiplier(cfg.GlobalMultiplier),
		"Daily limit: " + daily,
		fmt.Sprintf("Calculated every %ds, sessions under %ds are ignored, AFK after %d min deafened",
			cfg.XPCalculationIntervalSeconds, cfg.MinSessionSeconds, cfg.AFKDetectionMinutes),
	}

	ids := make([]string, 0, len(cfg.Channels))
	for id := range cfg.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ch := cfg.Channels[id]
		lines = append(lines, fmt.Sprintf("%s: %s track, %g XP/min, cap %d/h",
			utils.FormatChannelMention(id), ch.TrackType, ch.BaseXPPerMinute, ch.MaxXPPerHour))
	}

	if len(cfg.ExcludedChannelIDs) > 0 {
		mentions := make([]string, 0, len(cfg.ExcludedChannelIDs))
		for _, id := range cfg.ExcludedChannelIDs {
			mentions = append(mentions, utils.FormatChannelMention(id))
		}
		lines = append(lines, "Excluded: "+strings.Join(mentions, ", "))
	}
	return utils.TruncateString(strings.Join(lines, "\n"), utils.MaxMessageLength)
}

func (c *Commands) handleAdmin(ctx context.Context, m Message, cmd string, args []string) string {
	cfg, err := c.policy.LoadGuildVoiceConfig(ctx, m.GuildID)
	if err != nil {
		c.log.Error().Err(err).Str("guild_id", m.GuildID).Str("command", cmd).Msg("error loading voice config")
		return "Could not load the voice XP settings right now."
	}

	var reply string
	switch cmd {
	case "enable", "disable":
		cfg.Enabled = cmd == "enable"
		reply = "Voice XP " + cmd + "d."

	case "preset":
		if len(args) != 1 {
			return "Usage: " + c.prefix + " preset <" + strings.Join(models.PresetNames, "|") + ">"
		}
		preset, ok := models.Preset(strings.ToLower(args[0]))
		if !ok {
			return "Unknown preset. Choose one of: " + strings.Join(models.PresetNames, ", ")
		}
		// Channel overrides and exclusions survive a preset switch
		preset.Channels = cfg.Channels
		preset.ExcludedChannelIDs = cfg.ExcludedChannelIDs
		preset.ExcludedUserIDs = cfg.ExcludedUserIDs
		preset.Enabled = cfg.Enabled
		cfg = preset
		reply = "Applied the " + strings.ToLower(args[0]) + " preset."

	case "multiplier":
		if len(args) != 1 {
			return "Usage: " + c.prefix + " multiplier <x>"
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return "The multiplier must be a number, for example 1.5"
		}
		cfg.GlobalMultiplier = v
		cfg.Normalize()
		reply = "Global multiplier set to " + utils.FormatMultiplier(cfg.GlobalMultiplier) + "."

	case "track":
		if len(args) != 2 {
			return "Usage: " + c.prefix + " track <#channel> <track>"
		}
		channelID, ok := utils.ParseChannelMention(args[0])
		if !ok {
			return "Mention a voice channel, for example <#123>"
		}
		track := models.TrackType(strings.ToLower(args[1]))
		if _, ok := cfg.Track(track); !ok {
			return "Unknown track " + args[1] + "."
		}
		ch := cfg.Channel(channelID)
		ch.TrackType = track
		cfg.Channels[channelID] = ch
		reply = utils.FormatChannelMention(channelID) + " now uses the " + string(track) + " track."

	case "exclude", "include":
		if len(args) != 1 {
			return "Usage: " + c.prefix + " " + cmd + " <#channel>"
		}
		channelID, ok := utils.ParseChannelMention(args[0])
		if !ok {
			return "Mention a voice channel, for example <#123>"
		}
		if cmd == "exclude" {
			cfg.ExcludeChannel(channelID)
			reply = utils.FormatChannelMention(channelID) + " no longer earns voice XP."
		} else {
			cfg.IncludeChannel(channelID)
			reply = utils.FormatChannelMention(channelID) + " earns voice XP again."
		}
	}

	if err := c.policy.SaveGuildVoiceConfig(ctx, m.GuildID, cfg); err != nil {
		c.log.Error().Err(err).Str("guild_id", m.GuildID).Str("command", cmd).Msg("error saving voice config")
		return "Could not save the voice XP settings right now."
	}
	c.log.Info().Str("guild_id", m.GuildID).Str("user_id", m.AuthorID).Str("command", cmd).Msg("voice config changed")
	return reply
}
