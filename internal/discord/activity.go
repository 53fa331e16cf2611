package discord

import (
	"github.com/bwmarrin/discordgo"

	"voicexp/internal/models"
)

// ClassifyActivity derives the activity of a member from their voice state.
// The gateway does not report who is talking, so streaming or sharing a
// camera is the strongest participation signal and counts as speaking.
func ClassifyActivity(vs *discordgo.VoiceState, afkChannelID string) models.ActivityType {
	switch {
	case vs == nil:
		return models.ActivityListening
	case afkChannelID != "" && vs.ChannelID == afkChannelID:
		return models.ActivityAFK
	case vs.SelfDeaf || vs.Deaf:
		return models.ActivityDeafened
	case vs.SelfMute || vs.Mute || vs.Suppress:
		return models.ActivityMuted
	case vs.SelfStream || vs.SelfVideo:
		return models.ActivitySpeaking
	default:
		return models.ActivityListening
	}
}
