package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"voicexp/internal/models"
)

// Tracker is the session engine the gateway events drive
type Tracker interface {
	StartSession(ctx context.Context, guildID, userID, channelID string, activity models.ActivityType) (string, bool)
	EndSession(ctx context.Context, guildID, userID string, force bool) *models.CompletedSession
	UpdateActivity(guildID, userID string, activity models.ActivityType) bool
	Session(guildID, userID string) (models.ActiveSession, bool)
	Sessions(guildID string) []models.ActiveSession
}

// VoiceEvent is one observed voice state of a member
type VoiceEvent struct {
	GuildID   string
	UserID    string
	ChannelID string // empty when the member left voice
	Activity  models.ActivityType
	Bot       bool
}

// Actions reported by applyVoiceEvent
const (
	actionIgnored  = "ignored"
	actionStarted  = "started"
	actionDeclined = "declined"
	actionEnded    = "ended"
	actionMoved    = "moved"
	actionUpdated  = "updated"
)

// applyVoiceEvent maps a voice state onto the tracker. The previous channel
// is taken from the live session rather than the gateway cache, so a missed
// event heals on the next one.
func applyVoiceEvent(ctx context.Context, t Tracker, ev VoiceEvent) string {
	if ev.Bot {
		return actionIgnored
	}

	current, live := t.Session(ev.GuildID, ev.UserID)
	switch {
	case ev.ChannelID == "" && !live:
		return actionIgnored
	case ev.ChannelID == "":
		t.EndSession(ctx, ev.GuildID, ev.UserID, false)
		return actionEnded
	case live && current.ChannelID == ev.ChannelID:
		if t.UpdateActivity(ev.GuildID, ev.UserID, ev.Activity) {
			return actionUpdated
		}
		return actionIgnored
	}

	// A join, or a move that force-ends the old session first
	if _, ok := t.StartSession(ctx, ev.GuildID, ev.UserID, ev.ChannelID, ev.Activity); !ok {
		if live {
			return actionEnded
		}
		return actionDeclined
	}
	if live {
		return actionMoved
	}
	return actionStarted
}

// bootstrapEvents turns a guild snapshot into voice events: one per member in
// voice, then a leave for every live session whose member is no longer in any
// voice channel. The leaves end sessions whose departure was missed while
// the gateway was away.
func bootstrapEvents(g *discordgo.Guild, live []models.ActiveSession) []VoiceEvent {
	bots := make(map[string]bool)
	for _, m := range g.Members {
		if m.User != nil && m.User.Bot {
			bots[m.User.ID] = true
		}
	}

	present := make(map[string]bool, len(g.VoiceStates))
	events := make([]VoiceEvent, 0, len(g.VoiceStates))
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == "" {
			continue
		}
		present[vs.UserID] = true
		events = append(events, VoiceEvent{
			GuildID:   g.ID,
			UserID:    vs.UserID,
			ChannelID: vs.ChannelID,
			Activity:  ClassifyActivity(vs, g.AfkChannelID),
			Bot:       bots[vs.UserID] || (vs.Member != nil && vs.Member.User != nil && vs.Member.User.Bot),
		})
	}

	for _, s := range live {
		if !present[s.UserID] {
			events = append(events, VoiceEvent{GuildID: g.ID, UserID: s.UserID})
		}
	}
	return events
}
