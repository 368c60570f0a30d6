// Package senses adapts inbound chat transports to (identity, text)
// messages for the pipeline.
package senses

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/ewalk/calbot/internal/logging"
)

// Message is one inbound chat message. Identity is the stable per-user
// key the session and auth layers are keyed on.
type Message struct {
	Identity  string
	ChannelID string
	Text      string
}

// Handler receives inbound messages. It must not block: slow turns are
// the handler's problem to take off this goroutine.
type Handler func(Message)

// DiscordConfig holds Discord connection settings
type DiscordConfig struct {
	Token     string
	ChannelID string // optional: restrict to one channel
}

// DiscordSense listens to Discord and emits messages
type DiscordSense struct {
	session   *discordgo.Session
	channelID string
	botID     string
	handler   Handler
}

// NewDiscordSense creates a Discord listener
func NewDiscordSense(cfg DiscordConfig, handler Handler) (*DiscordSense, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	sense := &DiscordSense{
		session:   session,
		channelID: cfg.ChannelID,
		handler:   handler,
	}
	session.AddHandler(sense.handleMessage)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return sense, nil
}

// Start connects to Discord and begins listening
func (d *DiscordSense) Start() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	d.botID = d.session.State.User.ID
	logging.Info("discord", "Connected as %s", d.session.State.User.Username)
	return nil
}

// Stop disconnects from Discord
func (d *DiscordSense) Stop() error {
	return d.session.Close()
}

// Session returns the underlying Discord session for sharing with the
// outbound effector
func (d *DiscordSense) Session() *discordgo.Session {
	return d.session
}

// Identity returns the stable identity key for a Discord user ID
func Identity(authorID string) string {
	return "discord:" + authorID
}

func (d *DiscordSense) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == d.botID || m.Author.Bot {
		return
	}
	if d.channelID != "" && m.ChannelID != d.channelID {
		return
	}
	if m.Content == "" {
		return
	}

	logging.Debug("discord", "Message from %s: %s", m.Author.ID, logging.Truncate(m.Content, 50))
	d.handler(Message{
		Identity:  Identity(m.Author.ID),
		ChannelID: m.ChannelID,
		Text:      m.Content,
	})
}
