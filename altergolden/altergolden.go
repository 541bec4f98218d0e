package altergolden

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/alG-N/alterGoldenBot-sub008/altergolden.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

// AlterGolden is the bot: the backing store and cache, the domain
// repositories built on them, vote and scheduler coordination, the
// discord gateway session, and the ops API.
type AlterGolden struct {
	config *Config

	logger     *slog.Logger
	logHandler slog.Handler

	store BackingStore
	cache *Cache

	sessions     *SessionStore
	preferences  *PreferencesStore
	blacklist    *BlacklistStore
	favorites    *ListStore[Favorite]
	history      *ListStore[HistoryEntry]
	results      *ResultStore
	autocomplete *AutocompleteStore

	votes     *VoteCoordinator
	scheduler *Scheduler

	discord *Discord
	api     *API

	writeDB *Database

	paused atomic.Bool

	startedAt time.Time
	runMu     sync.Mutex

	signalReady chan struct{}
	signalStop  chan struct{}
}

func New(config *Config) (*AlterGolden, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	ag := &AlterGolden{
		config:      config,
		signalReady: make(chan struct{}, 1),
	}

	ag.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	ag.logger = slog.New(ag.logHandler)
	slog.SetDefault(ag.logger)

	if config.Redis != nil && config.Redis.Enabled {
		ag.store = NewRedisStore(
			config.Redis,
			slog.New(
				tint.NewHandler(
					defaultLogWriter, &tint.Options{
						Level:     config.Redis.LogLevel,
						AddSource: true,
					},
				),
			),
		)
	} else {
		ag.logger.Warn("durable store disabled, running local-only")
	}

	ag.cache = NewCache(
		ag.store,
		config.Cache,
		slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.Cache.LogLevel,
					AddSource: true,
				},
			),
		),
	)

	ag.sessions = NewSessionStore(ag.cache)
	ag.preferences = NewPreferencesStore(ag.cache)
	ag.blacklist = NewBlacklistStore(ag.cache)
	ag.favorites = NewFavoritesStore(ag.cache)
	ag.history = NewHistoryStore(ag.cache)
	ag.results = NewResultStore(ag.cache)
	ag.autocomplete = NewAutocompleteStore(ag.cache)

	ag.votes = NewVoteCoordinator(config.Votes, ag.logger, nil)
	ag.scheduler = NewScheduler(
		ag.store,
		config.Scheduler,
		ag.disconnectVoice,
		ag.logger,
		nil,
	)

	disc, err := newDiscord(config.Discord)
	if err != nil {
		errs = append(errs, err)
	} else {
		discordgo.Logger = discordgoLoggerFunc(
			context.Background(),
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.Discord.DiscordGoLogLevel,
					AddSource: true,
				},
			).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
		)
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.ag = ag
		ag.discord = disc
	}

	api, err := newAPI(ag, config.API)
	if err != nil {
		errs = append(errs, err)
	}
	ag.api = api

	return ag, errors.Join(errs...)
}

func (ag *AlterGolden) ValidateConfig() error {
	return structValidator.Struct(ag.config)
}

// Cache returns the dual-tier cache, for callers layered above the bot.
func (ag *AlterGolden) Cache() *Cache {
	return ag.cache
}

func (ag *AlterGolden) Sessions() *SessionStore           { return ag.sessions }
func (ag *AlterGolden) Preferences() *PreferencesStore    { return ag.preferences }
func (ag *AlterGolden) Blacklist() *BlacklistStore        { return ag.blacklist }
func (ag *AlterGolden) Favorites() *ListStore[Favorite]   { return ag.favorites }
func (ag *AlterGolden) History() *ListStore[HistoryEntry] { return ag.history }
func (ag *AlterGolden) Results() *ResultStore             { return ag.results }
func (ag *AlterGolden) Autocomplete() *AutocompleteStore  { return ag.autocomplete }
func (ag *AlterGolden) Votes() *VoteCoordinator           { return ag.votes }
func (ag *AlterGolden) VoiceScheduler() *Scheduler        { return ag.scheduler }

// Run starts the bot and blocks until ctx is cancelled, then shuts down
// gracefully.
func (ag *AlterGolden) Run(ctx context.Context) error {
	// prevents concurrent runs
	ag.runMu.Lock()
	defer ag.runMu.Unlock()

	ag.signalStop = make(chan struct{}, 1)
	ag.startedAt = time.Now()
	logger := ag.logger

	if err := ag.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", ag.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ag.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, ag.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- ag.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	runtimeWG := &sync.WaitGroup{}

	go func() {
		httpErr := ag.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		ag.cache.Run(ctx)
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		ag.scheduler.Run(ctx)
	}()

	if err := ag.initDiscordSession(ctx); err != nil {
		logger.ErrorContext(ctx, "error starting discord session", tint.Err(err))
		return err
	}

	ag.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return ag.shutdown(runtimeWG)
}

// initRun connects the backing store and write DB ahead of everything
// else, so a misconfigured datastore fails startup instead of surfacing
// later as degraded-mode log spam.
func (ag *AlterGolden) initRun(ctx context.Context) error {
	if ag.store != nil {
		if err := ag.store.Ping(ctx); err != nil {
			return fmt.Errorf("backing store unreachable: %w", err)
		}
	}

	db, err := CreateDB(
		ctx,
		ag.config.DatabaseType,
		ag.config.Database,
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     ag.config.DatabaseLogLevel,
				AddSource: true,
			},
		),
		ag.config.DatabaseSlowThreshold,
	)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	ag.writeDB = NewDatabase(
		db,
		ag.logger,
		ag.config.DatabaseType == dbTypePostgres,
	)
	ag.votes.writeDB = ag.writeDB
	ag.scheduler.writeDB = ag.writeDB
	return nil
}

func (ag *AlterGolden) initDiscordSession(ctx context.Context) error {
	session, err := ag.discord.newSession()
	if err != nil {
		return err
	}
	ag.discord.session = session

	ag.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(ag.discord.handlerReady()),
		session.AddHandler(ag.discord.handlerConnect()),
		session.AddHandler(ag.discord.handlerDisconnect()),
		session.AddHandler(ag.discord.handlerVoiceStateUpdate()),
		session.AddHandler(ag.discord.handlerInteractionCreate()),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	ag.logger.InfoContext(ctx, "discord session opened")
	return nil
}

func (ag *AlterGolden) shutdown(runtimeWG *sync.WaitGroup) error {
	logger := ag.logger
	logger.Warn("shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		ag.config.ShutdownTimeout,
	)
	defer cancel()

	if ag.discord != nil && ag.discord.session != nil {
		for _, remove := range ag.discord.discordgoRemoveHandlerFuncs {
			remove()
		}
		if err := ag.discord.session.Close(); err != nil {
			logger.Error("error closing discord session", tint.Err(err))
		}
	}

	if ag.api != nil {
		if err := ag.api.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down api", tint.Err(err))
		}
	}

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		done <- struct{}{}
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Error("timed out waiting for runtime goroutines")
	}

	if ag.store != nil {
		if err := ag.store.Close(); err != nil {
			logger.Error("error closing backing store", tint.Err(err))
		}
	}
	logger.Warn("shutdown complete")
	return nil
}

// Stop triggers a graceful shutdown of a running bot.
func (ag *AlterGolden) Stop() {
	select {
	case ag.signalStop <- struct{}{}:
	default:
	}
}

// Pause stops the bot from acting on component interactions (votes,
// pagination). In-flight scheduled actions still fire. Returns false if
// already paused.
func (ag *AlterGolden) Pause(ctx context.Context) bool {
	changed := ag.paused.CompareAndSwap(false, true)
	if changed {
		ag.logger.WarnContext(ctx, "paused")
	}
	return changed
}

// Resume re-enables interaction handling. Returns false if not paused.
func (ag *AlterGolden) Resume(ctx context.Context) bool {
	changed := ag.paused.CompareAndSwap(true, false)
	if changed {
		ag.logger.WarnContext(ctx, "resumed")
	}
	return changed
}

// voiceScope identifies a voice channel across processes.
func voiceScope(guildID, channelID string) string {
	return guildID + ":" + channelID
}

func parseVoiceScope(scope string) (guildID string, channelID string) {
	guildID, channelID, _ = strings.Cut(scope, ":")
	return guildID, channelID
}

// handleVoiceStateUpdate watches the channel the bot is connected to:
// when the last human leaves, it schedules the auto-disconnect, and when
// someone joins (or re-joins) it cancels the pending one.
func (ag *AlterGolden) handleVoiceStateUpdate(
	s *discordgo.Session,
	v *discordgo.VoiceStateUpdate,
) {
	if s == nil || s.State == nil || s.State.User == nil {
		return
	}
	guildID := v.GuildID
	botVoice, err := s.State.VoiceState(guildID, s.State.User.ID)
	if err != nil || botVoice == nil || botVoice.ChannelID == "" {
		return
	}

	ctx := WithLogger(context.Background(), ag.logger)
	scope := voiceScope(guildID, botVoice.ChannelID)
	humans := voiceChannelMemberCount(s, guildID, botVoice.ChannelID)

	if humans == 0 {
		if !ag.scheduler.Pending(scope) {
			ag.logger.Info(
				"voice channel empty, scheduling disconnect",
				"scope", scope,
				"delay", ag.config.Scheduler.DisconnectDelay,
			)
			ag.scheduler.Schedule(
				ctx,
				scope,
				ag.config.Scheduler.DisconnectDelay,
			)
		}
		return
	}
	if ag.scheduler.Pending(scope) {
		ag.logger.Info("voice channel occupied again", "scope", scope)
		ag.scheduler.Cancel(ctx, scope)
	}
}

// disconnectVoice is the scheduled action fired when the bot has been
// alone in a voice channel for the configured delay. It also discards any
// votes still open against that channel.
func (ag *AlterGolden) disconnectVoice(ctx context.Context, scope string) {
	guildID, channelID := parseVoiceScope(scope)
	ag.votes.Cancel(scope, VoteSkip)
	ag.votes.Cancel(scope, VotePriority)

	if ag.discord == nil || ag.discord.session == nil {
		return
	}
	// joining an empty channel ID disconnects
	if err := ag.discord.session.ChannelVoiceJoinManual(
		guildID, "", false, false,
	); err != nil {
		ag.logger.ErrorContext(
			ctx,
			"error disconnecting from voice",
			"guild_id", guildID,
			"channel_id", channelID,
			tint.Err(err),
		)
	}
}

// handleComponentInteraction routes button presses: vote buttons feed the
// vote coordinator, pagination buttons mutate the pressing user's UI
// session.
func (ag *AlterGolden) handleComponentInteraction(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	if ag.paused.Load() {
		ag.respondEphemeral(i, "The bot is paused right now, try again soon.")
		return
	}
	du := getDiscordUser(i)
	if du == nil {
		return
	}

	ctx := WithLogger(context.Background(), ag.logger)
	user, _, err := ag.writeDB.GetOrCreateUser(ctx, *du)
	if err != nil {
		ag.logger.ErrorContext(ctx, "error loading user", tint.Err(err))
	}
	if user != nil && user.Ignored {
		return
	}

	verb, arg := parseCustomID(i.MessageComponentData().CustomID)
	switch verb {
	case componentVoteSkip:
		ag.handleVoteComponent(ctx, s, i, du.ID, arg, VoteSkip)
	case componentVotePriority:
		ag.handleVoteComponent(ctx, s, i, du.ID, arg, VotePriority)
	case componentPageNext:
		ag.handlePageComponent(ctx, i, du.ID, arg, 1)
	case componentPagePrev:
		ag.handlePageComponent(ctx, i, du.ID, arg, -1)
	case componentDismiss:
		ag.sessions.Clear(ctx, arg, du.ID)
		ag.ackComponent(i)
	default:
		ag.logger.WarnContext(
			ctx,
			"unknown component",
			"custom_id", i.MessageComponentData().CustomID,
		)
	}
}

func (ag *AlterGolden) handleVoteComponent(
	ctx context.Context,
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	voterID string,
	scope string,
	kind VoteKind,
) {
	_, channelID := parseVoiceScope(scope)
	eligible := voiceChannelMemberCount(s, i.GuildID, channelID)

	result, err := ag.votes.Start(ctx, scope, kind, voterID, eligible)
	if errors.Is(err, ErrVoteActive) {
		result, err = ag.votes.AddBallot(ctx, scope, kind, voterID)
	}
	if err != nil {
		ag.logger.ErrorContext(ctx, "vote failed", tint.Err(err))
		ag.respondEphemeral(i, "Something went wrong with that vote.")
		return
	}

	switch {
	case result.AlreadyVoted:
		ag.respondEphemeral(i, "You already voted.")
	case result.Passed:
		ag.respondEphemeral(i, "Vote passed!")
	default:
		ag.respondEphemeral(
			i,
			fmt.Sprintf(
				"Vote counted: %d/%d",
				result.Status.Ballots,
				result.Status.Required,
			),
		)
	}
}

func (ag *AlterGolden) handlePageComponent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	userID string,
	feature string,
	delta int,
) {
	ag.sessions.Save(
		ctx, feature, userID, func(sess *Session) {
			next := sess.Index + delta
			if next < 0 {
				next = 0
			}
			if len(sess.Results) > 0 && next >= len(sess.Results) {
				next = len(sess.Results) - 1
			}
			sess.Index = next
		},
	)
	ag.ackComponent(i)
}

func (ag *AlterGolden) ackComponent(i *discordgo.InteractionCreate) {
	if err := ag.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		},
	); err != nil {
		ag.logger.Error("error acknowledging component", tint.Err(err))
	}
}

func (ag *AlterGolden) respondEphemeral(
	i *discordgo.InteractionCreate,
	content string,
) {
	if err := ag.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	); err != nil {
		ag.logger.Error("error responding to interaction", tint.Err(err))
	}
}
