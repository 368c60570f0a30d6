// Package effectors sends outbound replies over chat transports.
package effectors

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/ewalk/calbot/internal/logging"
)

// discordMessageLimit is Discord's hard cap on message length
const discordMessageLimit = 2000

// DiscordEffector sends replies to Discord channels, sharing the sense's
// session
type DiscordEffector struct {
	session *discordgo.Session
}

// NewDiscordEffector creates a Discord effector
func NewDiscordEffector(session *discordgo.Session) *DiscordEffector {
	return &DiscordEffector{session: session}
}

// Send delivers a reply, splitting it when it exceeds the transport limit
func (e *DiscordEffector) Send(channelID, content string) error {
	for _, chunk := range splitMessage(content, discordMessageLimit) {
		if _, err := e.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	logging.Debug("discord", "Sent %d chars to %s", len(content), channelID)
	return nil
}

// splitMessage breaks content into chunks of at most limit runes,
// preferring newline boundaries
func splitMessage(content string, limit int) []string {
	runes := []rune(content)
	if len(runes) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
