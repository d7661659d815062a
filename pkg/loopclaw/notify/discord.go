// Package notify – discord.go delivers error toasts to a Discord channel
// using discordgo. Unlike a full chat channel, the notifier is send-only:
// no intents, no message handlers.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// DiscordConfig holds the notifier configuration.
type DiscordConfig struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// ChannelID is the channel that receives loop notifications.
	ChannelID string `yaml:"channel_id"`
}

// DiscordNotifier sends notifications to a single Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *slog.Logger
}

// NewDiscordNotifier opens a Discord session for send-only notification use.
func NewDiscordNotifier(cfg DiscordConfig, logger *slog.Logger) (*DiscordNotifier, error) {
	if cfg.Token == "" || cfg.ChannelID == "" {
		return nil, fmt.Errorf("discord notifier requires token and channel_id")
	}
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	// Send-only: REST calls work without opening the gateway, but opening it
	// validates the token early instead of failing on the first toast.
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("connecting to discord: %w", err)
	}
	return &DiscordNotifier{
		session:   session,
		channelID: cfg.ChannelID,
		logger:    logger.With("component", "discord-notify"),
	}, nil
}

// Notify sends one notification message.
func (d *DiscordNotifier) Notify(kind, message string) error {
	text := fmt.Sprintf("⚠️ **%s**: %s", kind, message)
	if _, err := d.session.ChannelMessageSend(d.channelID, text); err != nil {
		return fmt.Errorf("sending discord notification: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (d *DiscordNotifier) Close() error {
	return d.session.Close()
}
