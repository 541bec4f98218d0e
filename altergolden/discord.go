package altergolden

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// component custom IDs are "verb:argument", e.g. "vote_skip:<channel>"
	customIDFormat = "%s:%s"

	componentVoteSkip     = "vote_skip"
	componentVotePriority = "vote_priority"
	componentPageNext     = "page_next"
	componentPagePrev     = "page_prev"
	componentDismiss      = "dismiss"
)

// Discord manages the gateway session: connection lifecycle, presence,
// and the event handlers that feed interactions and voice-state changes
// into the rest of the bot.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger

	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64
	connected         atomic.Bool

	discordgoRemoveHandlerFuncs []func()

	ag *AlterGolden
}

func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config == nil {
		return nil, fmt.Errorf("nil discord config")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes the discordgo session with the configured token,
// intents and log level. State tracking stays enabled: voice-state counts
// for vote eligibility come from it.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = true
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, _ *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)

		var sessionID string
		var userID string
		var username string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Error("unable to set custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

func (d *Discord) handlerVoiceStateUpdate() func(
	s *discordgo.Session,
	v *discordgo.VoiceStateUpdate,
) {
	return func(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		if d.ag == nil || v == nil {
			return
		}
		d.ag.handleVoiceStateUpdate(s, v)
	}
}

func (d *Discord) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if d.ag == nil || i == nil {
			return
		}
		switch i.Type {
		case discordgo.InteractionMessageComponent:
			d.ag.handleComponentInteraction(s, i)
		default:
			// slash commands are registered and handled upstream of this
			// layer
		}
	}
}

// voiceChannelMemberCount counts users (excluding bots) currently in the
// voice channel, from gateway state. This is the eligible-voter count for
// vote quorums, and the "is the bot alone" check for auto-disconnect.
func voiceChannelMemberCount(
	s *discordgo.Session,
	guildID string,
	channelID string,
) int {
	if s == nil || s.State == nil {
		return 0
	}
	guild, err := s.State.Guild(guildID)
	if err != nil || guild == nil {
		return 0
	}
	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		member, memberErr := s.State.Member(guildID, vs.UserID)
		if memberErr == nil && member != nil && member.User != nil &&
			member.User.Bot {
			continue
		}
		count++
	}
	return count
}

// parseCustomID splits a component custom ID into its verb and argument.
func parseCustomID(customID string) (verb string, arg string) {
	verb, arg, _ = strings.Cut(customID, ":")
	return verb, arg
}

func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	switch {
	case i == nil:
		return nil
	case i.User != nil:
		return i.User
	case i.Member != nil:
		return i.Member.User
	default:
		return nil
	}
}

// DiscordSessionHandler is the part of the discordgo session surface this
// bot uses, so tests can stub the gateway.
type DiscordSessionHandler interface {
	Open() error
	Close() error
	AddHandler(handler any) func()
	UpdateCustomStatus(status string, options ...discordgo.RequestOption) error
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error
	ChannelVoiceJoinManual(
		gID string,
		cID string,
		mute bool,
		deaf bool,
		options ...discordgo.RequestOption,
	) error
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession wraps a concrete *discordgo.Session behind
// DiscordSessionHandler.
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) UpdateCustomStatus(
	status string,
	_ ...discordgo.RequestOption,
) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) ChannelVoiceJoinManual(
	gID string,
	cID string,
	mute bool,
	deaf bool,
	_ ...discordgo.RequestOption,
) error {
	return d.session.ChannelVoiceJoinManual(gID, cID, mute, deaf)
}

// SetLogLevel maps an slog.Level to the discordgo logging level.
func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %v", lvl)
	}
	return nil
}
