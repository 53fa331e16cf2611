package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"voicexp/internal/models"
	"voicexp/pkg/utils"
)

// eventTimeout bounds the storage work one gateway event may trigger
const eventTimeout = 10 * time.Second

// Deps are the collaborators of the bot
type Deps struct {
	Tracker Tracker
	Policy  PolicyAdmin
	Stats   StatsReader
	Prefix  string
	Logger  zerolog.Logger
}

// Bot represents the Discord bot
type Bot struct {
	session  *discordgo.Session
	tracker  Tracker
	commands *Commands
	queues   *guildQueues
	log      zerolog.Logger
}

// New creates a new Discord bot
func New(token string, deps Deps) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	// Handlers run in gateway order; the per-guild queues take it from there
	session.SyncEvents = true

	bot := &Bot{
		session: session,
		tracker: deps.Tracker,
		log:     deps.Logger.With().Str("component", "discord").Logger(),
	}
	bot.commands = NewCommands(deps.Prefix, deps.Tracker, deps.Policy, deps.Stats, bot.canManageGuild, deps.Logger)
	bot.queues = newGuildQueues(bot.handleVoiceEvent)

	// Add event handlers
	session.AddHandler(bot.ready)
	session.AddHandler(bot.guildCreate)
	session.AddHandler(bot.guildDelete)
	session.AddHandler(bot.voiceStateUpdate)
	session.AddHandler(bot.messageCreate)

	return bot, nil
}

// Start starts the bot
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	b.log.Info().Msg("bot is running")
	return nil
}

// Stop closes the gateway and drains queued voice events
func (b *Bot) Stop() error {
	err := b.session.Close()
	b.queues.Close()
	return err
}

// NotifyLevelUp announces a level gained through voice XP in the text chat
// of the voice channel the session ran in.
func (b *Bot) NotifyLevelUp(_ context.Context, c models.CompletedSession, r models.GrantResult) {
	if !r.LeveledUp {
		return
	}
	msg := fmt.Sprintf("🎉 %s reached voice level %d! (+%d XP from %s in %s)",
		utils.FormatUserMention(c.UserID), r.NewLevel, r.Granted,
		utils.FormatDuration(c.DurationSeconds), utils.FormatChannelMention(c.ChannelID))
	if _, err := b.session.ChannelMessageSend(c.ChannelID, msg); err != nil {
		b.log.Warn().Err(err).Str("guild_id", c.GuildID).Str("user_id", c.UserID).Msg("error sending level up message")
	}
}

func (b *Bot) ready(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("connected to gateway")
}

// guildCreate picks up members who were already in voice when the bot
// connected or the guild became available, and ends sessions of members who
// left while it was away.
func (b *Bot) guildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Unavailable {
		return
	}

	events := bootstrapEvents(g.Guild, b.tracker.Sessions(g.ID))
	for _, ev := range events {
		b.queues.Dispatch(ev)
	}
	b.log.Debug().
		Str("guild_id", g.ID).
		Int("voice_states", len(g.VoiceStates)).
		Int("events", len(events)).
		Msg("guild voice states bootstrapped")
}

// guildDelete finalizes the sessions of a guild the bot was removed from.
// Outages are ignored; sessions resume on the next GuildCreate.
func (b *Bot) guildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	for _, sess := range b.tracker.Sessions(g.ID) {
		b.queues.Dispatch(VoiceEvent{GuildID: g.ID, UserID: sess.UserID})
	}
}

// voiceStateUpdate handles voice state updates
func (b *Bot) voiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.VoiceState == nil || vs.GuildID == "" {
		return
	}
	b.queues.Dispatch(VoiceEvent{
		GuildID:   vs.GuildID,
		UserID:    vs.UserID,
		ChannelID: vs.ChannelID,
		Activity:  ClassifyActivity(vs.VoiceState, b.afkChannel(vs.GuildID)),
		Bot:       b.isBot(vs.VoiceState),
	})
}

func (b *Bot) handleVoiceEvent(ev VoiceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	action := applyVoiceEvent(ctx, b.tracker, ev)
	b.log.Debug().
		Str("guild_id", ev.GuildID).
		Str("user_id", ev.UserID).
		Str("channel_id", ev.ChannelID).
		Str("activity", string(ev.Activity)).
		Str("action", action).
		Msg("voice state applied")
}

// messageCreate handles message creation events
func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	reply := b.commands.Handle(ctx, Message{
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Content:    m.Content,
	})
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		b.log.Warn().Err(err).Str("channel_id", m.ChannelID).Msg("error sending reply")
	}
}

func (b *Bot) afkChannel(guildID string) string {
	g, err := b.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	return g.AfkChannelID
}

func (b *Bot) isBot(vs *discordgo.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot
	}
	if m, err := b.session.State.Member(vs.GuildID, vs.UserID); err == nil && m.User != nil {
		return m.User.Bot
	}
	return false
}

// canManageGuild reports whether the member holds Manage Server in channelID
func (b *Bot) canManageGuild(guildID, userID, channelID string) bool {
	perms, err := b.session.UserChannelPermissions(userID, channelID)
	if err != nil {
		b.log.Warn().Err(err).Str("guild_id", guildID).Str("user_id", userID).Msg("error resolving permissions")
		return false
	}
	return perms&discordgo.PermissionManageServer != 0 || perms&discordgo.PermissionAdministrator != 0
}
