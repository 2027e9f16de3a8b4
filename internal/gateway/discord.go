package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
)

// discordLimit is Discord's maximum message length.
const discordLimit = 2000

// DiscordGateway receives "!" commands from a Discord channel and sends
// pipeline notifications back to it.
type DiscordGateway struct {
	Session *discordgo.Session
	Control Controller
	// ChannelID restricts commands to one channel. Empty accepts any.
	ChannelID string

	stopped chan struct{}
}

func NewDiscordGateway(token, channelID string, ctrl Controller) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	dg := &DiscordGateway{
		Session:   session,
		Control:   ctrl,
		ChannelID: channelID,
		stopped:   make(chan struct{}),
	}
	session.AddHandler(dg.onMessage)
	return dg, nil
}

// Start opens the websocket and blocks until Stop.
func (dg *DiscordGateway) Start() error {
	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	log.Printf("[Gateway] Connected to Discord")
	<-dg.stopped
	return nil
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if dg.ChannelID != "" && m.ChannelID != dg.ChannelID {
		return
	}
	if len(m.Content) == 0 || m.Content[0] != '!' {
		return
	}
	cmd, ok := ParseCommand(m.Content)
	if !ok {
		return
	}

	log.Printf("[Gateway] [%s] %s", m.Author.Username, m.Content)
	reply := Execute(context.Background(), dg.Control, cmd)
	if err := dg.Send(m.ChannelID, reply); err != nil {
		log.Printf("[Gateway] Failed to reply on Discord: %v", err)
	}
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	if chatID == "" {
		return fmt.Errorf("invalid channel ID")
	}
	if runes := []rune(text); len(runes) > discordLimit {
		text = string(runes[:discordLimit-1]) + "…"
	}
	_, err := dg.Session.ChannelMessageSend(chatID, text)
	return err
}

func (dg *DiscordGateway) Stop() error {
	select {
	case <-dg.stopped:
	default:
		close(dg.stopped)
	}
	return dg.Session.Close()
}
