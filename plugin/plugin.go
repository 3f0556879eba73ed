// Package plugin hosts the Guild Wars 2 integration: it runs the login
// handoff, reports owned content, play time and achievements, and tracks the
// local installation in the background.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"

	"github.com/jmcleod/gw2link/account"
	"github.com/jmcleod/gw2link/authserver"
	"github.com/jmcleod/gw2link/localgame"
	"github.com/jmcleod/gw2link/presence"
	"github.com/jmcleod/gw2link/storage"
	"github.com/jmcleod/gw2link/storage/memory"
)

var (
	// ErrInvalidCredentials is returned when stored or freshly entered
	// credentials do not authorize.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownGame is returned for any game id other than GameID.
	ErrUnknownGame = errors.New("unknown game")
	// ErrNotAuthenticated is returned by calls that need an account.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Account is the slice of account.Client the plugin depends on.
type Account interface {
	authserver.Authorizer
	Identity() *account.Identity
	APIKey() string
	UnlockedAchievements(ctx context.Context) map[int]string
	Close()
}

// Intervals are the pauses between runs of the background tasks.
type Intervals struct {
	Achievements time.Duration
	Discovery    time.Duration
	Presence     time.Duration
}

// DefaultIntervals returns the refresh rates of the background tasks.
func DefaultIntervals() Intervals {
	return Intervals{
		Achievements: 1500 * time.Second,
		Discovery:    60 * time.Second,
		Presence:     5 * time.Second,
	}
}

// Plugin ties the account, the handoff server and the local presence tracker
// together.
type Plugin struct {
	account    Account
	cache      storage.Cache
	discoverer localgame.Discoverer
	processes  presence.ProcessLister
	bus        evbus.Bus
	intervals  Intervals
	serverOpts []authserver.Option
	trackOpts  []presence.Option
	now        func() time.Time
	logger     *slog.Logger
	rootLogger *slog.Logger

	tracker *presence.Tracker

	mu        sync.Mutex
	server    *authserver.Server
	instances []localgame.Instance
	// imported holds the achievement ids reported to the host. It stays empty
	// until an import returns achievements.
	imported map[int]struct{}
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithCache sets the persistent cache. Defaults to an in-memory cache.
func WithCache(c storage.Cache) Option {
	return func(p *Plugin) {
		p.cache = c
	}
}

// WithDiscoverer overrides platform installation discovery.
func WithDiscoverer(d localgame.Discoverer) Option {
	return func(p *Plugin) {
		p.discoverer = d
	}
}

// WithProcessLister overrides the process list used for presence.
func WithProcessLister(l presence.ProcessLister) Option {
	return func(p *Plugin) {
		p.processes = l
	}
}

// WithEventBus publishes events on bus instead of a private one.
func WithEventBus(bus evbus.Bus) Option {
	return func(p *Plugin) {
		p.bus = bus
	}
}

// WithIntervals overrides DefaultIntervals.
func WithIntervals(iv Intervals) Option {
	return func(p *Plugin) {
		p.intervals = iv
	}
}

// WithAuthServerOptions passes options to the handoff server.
func WithAuthServerOptions(opts ...authserver.Option) Option {
	return func(p *Plugin) {
		p.serverOpts = append(p.serverOpts, opts...)
	}
}

// WithTrackerOptions passes options to the presence tracker.
func WithTrackerOptions(opts ...presence.Option) Option {
	return func(p *Plugin) {
		p.trackOpts = append(p.trackOpts, opts...)
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		p.logger = logger
	}
}

// New creates a Plugin around acct.
func New(acct Account, opts ...Option) *Plugin {
	p := &Plugin{
		account:   acct,
		intervals: DefaultIntervals(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.cache == nil {
		p.cache = memory.New()
	}
	if p.discoverer == nil {
		p.discoverer = localgame.NewDiscoverer(p.logger)
	}
	if p.processes == nil {
		p.processes = presence.SystemProcesses{Logger: p.logger}
	}
	if p.bus == nil {
		p.bus = evbus.New()
	}
	p.rootLogger = p.logger
	p.logger = p.logger.With("component", "plugin")

	trackOpts := append([]presence.Option{
		presence.WithLogger(p.rootLogger),
		presence.WithClock(p.now),
		presence.WithTransitionFunc(p.onTransition),
		presence.WithLastPlayedFunc(p.onLastPlayed),
	}, p.trackOpts...)
	p.tracker = presence.NewTracker(p.processes, trackOpts...)
	return p
}

// Events exposes the bus for subscribers.
func (p *Plugin) Events() evbus.BusSubscriber {
	return p.bus
}

func (p *Plugin) onTransition(_, to presence.State) {
	p.bus.Publish(TopicLocalGameChanged, LocalGame{GameID: GameID, State: to})
}

func (p *Plugin) onLastPlayed(at time.Time) {
	if err := storage.PutTime(context.Background(), p.cache, storage.KeyLastPlayed, at); err != nil {
		p.logger.Warn("recording last played", "error", err)
	}
}

// Authenticate logs in with stored credentials, or when there are none starts
// the handoff server and returns the web session the host must open.
func (p *Plugin) Authenticate(ctx context.Context, stored Credentials) (*Authentication, *NextStep, error) {
	if key := stored[CredentialAPIKey]; key != "" {
		outcome := p.account.Authorize(ctx, key)
		if outcome != account.OutcomeFinished {
			p.logger.Warn("stored credentials rejected", "outcome", outcome.String())
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, outcome)
		}
		auth, err := p.authentication()
		return auth, nil, err
	}

	p.logger.Info("no stored credentials, starting login handoff")
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		srv, err := authserver.New(p.account, append([]authserver.Option{authserver.WithLogger(p.rootLogger)}, p.serverOpts...)...)
		if err != nil {
			return nil, nil, err
		}
		p.server = srv
	}
	if err := p.server.Start(); err != nil && !errors.Is(err, authserver.ErrAlreadyRunning) {
		return nil, nil, fmt.Errorf("starting login handoff: %w", err)
	}

	return nil, &NextStep{
		Kind: "web_session",
		Params: AuthParams{
			WindowTitle:  "Login to Guild Wars 2",
			WindowWidth:  640,
			WindowHeight: 460,
			StartURI:     p.server.URI(),
			EndURIRegex:  ".*finished",
		},
	}, nil
}

// PassLoginCredentials finishes a web session started by Authenticate. It
// returns the credentials the host should persist.
func (p *Plugin) PassLoginCredentials(ctx context.Context) (*Authentication, Credentials, error) {
	if err := p.shutdownServer(ctx); err != nil {
		p.logger.Warn("stopping login handoff", "error", err)
	}

	key := p.account.APIKey()
	auth, err := p.authentication()
	if err != nil || key == "" {
		p.logger.Error("login handoff finished without an authorized account")
		return nil, nil, ErrInvalidCredentials
	}
	return auth, Credentials{CredentialAPIKey: key}, nil
}

func (p *Plugin) authentication() (*Authentication, error) {
	id := p.account.Identity()
	if id == nil {
		return nil, ErrInvalidCredentials
	}
	return &Authentication{UserID: id.AccountID, UserName: id.AccountName}, nil
}

func (p *Plugin) shutdownServer(ctx context.Context) error {
	p.mu.Lock()
	srv := p.server
	p.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

var dlcTitles = map[string]string{
	"HeartOfThorns":       "Heart of Thorns",
	"PathOfFire":          "Path of Fire",
	"EndOfDragons":        "End of Dragons",
	"SecretsOfTheObscure": "Secrets of the Obscure",
}

// OwnedGames reports the base game and the expansions the account holds.
func (p *Plugin) OwnedGames() ([]Game, error) {
	id := p.account.Identity()
	if id == nil {
		return nil, ErrNotAuthenticated
	}

	game := Game{ID: GameID, Title: GameName, License: LicenseSinglePurchase}
	for _, tag := range id.Access {
		switch tag {
		case "PlayForFree":
			game.License = LicenseFreeToPlay
			continue
		case "GuildWars2":
			continue
		}
		title, ok := dlcTitles[tag]
		if !ok {
			title = tag
		}
		game.DLCs = append(game.DLCs, DLC{ID: tag, Title: title, License: LicenseSinglePurchase})
	}
	return []Game{game}, nil
}

// LocalGames rediscovers installations and reports the game's presence. The
// result is empty when nothing is installed. It does not scan processes:
// the game is reported running only if the last presence poll saw it.
func (p *Plugin) LocalGames(ctx context.Context) ([]LocalGame, error) {
	inst, err := p.refreshInstances(ctx)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, nil
	}
	state := presence.StateInstalled
	if p.tracker.State() == presence.StateRunning {
		state = presence.StateRunning
	}
	return []LocalGame{{GameID: GameID, State: state}}, nil
}

// PollPresence scans the process list for the tracked installation and
// publishes a TopicLocalGameChanged event when the state changes.
func (p *Plugin) PollPresence(ctx context.Context) presence.State {
	return p.tracker.Poll(ctx, p.firstInstance())
}

func (p *Plugin) refreshInstances(ctx context.Context) (*localgame.Instance, error) {
	found, err := p.discoverer.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering installations: %w", err)
	}
	p.mu.Lock()
	p.instances = found
	p.mu.Unlock()
	if len(found) > 1 {
		p.logger.Debug("multiple installations found, tracking the first", "count", len(found))
	}
	return p.firstInstance(), nil
}

// firstInstance returns the tracked installation, or nil.
func (p *Plugin) firstInstance() *localgame.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.instances) == 0 {
		return nil
	}
	inst := p.instances[0]
	return &inst
}

// LaunchGame starts the client. A missing executable marks the game absent.
func (p *Plugin) LaunchGame(ctx context.Context, gameID string) error {
	return p.runInstance(gameID, "launch", localgame.Instance.Launch)
}

// UninstallGame starts the client's uninstaller.
func (p *Plugin) UninstallGame(ctx context.Context, gameID string) error {
	return p.runInstance(gameID, "uninstall", localgame.Instance.Uninstall)
}

func (p *Plugin) runInstance(gameID, action string, fn func(localgame.Instance) error) error {
	if err := checkGame(gameID); err != nil {
		return err
	}

	inst := p.firstInstance()
	var err error
	if inst == nil {
		err = localgame.ErrExecutableNotFound
	} else {
		err = fn(*inst)
	}
	if errors.Is(err, localgame.ErrExecutableNotFound) {
		p.logger.Warn("game executable not found", "action", action)
		p.bus.Publish(TopicLocalGameChanged, LocalGame{GameID: GameID, State: presence.StateAbsent})
	}
	return err
}

// InstallGame returns the page the user downloads the client from.
func (p *Plugin) InstallGame(gameID string) (string, error) {
	if err := checkGame(gameID); err != nil {
		return "", err
	}
	return InstallURL, nil
}

// GameTime reports the account age as play time together with the last time
// the game was seen running.
func (p *Plugin) GameTime(ctx context.Context, gameID string) (*GameTime, error) {
	if err := checkGame(gameID); err != nil {
		return nil, err
	}
	id := p.account.Identity()
	if id == nil {
		return nil, ErrNotAuthenticated
	}

	gt := &GameTime{GameID: gameID, MinutesPlayed: id.AgeSeconds / 60}
	last, err := p.LastPlayed(ctx)
	if err != nil {
		p.logger.Warn("reading last played", "error", err)
	}
	gt.LastPlayed = last
	return gt, nil
}

// LastPlayed returns when the game was last seen running, or the zero time if
// it never was.
func (p *Plugin) LastPlayed(ctx context.Context) (time.Time, error) {
	last, err := storage.GetTime(ctx, p.cache, storage.KeyLastPlayed)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, nil
	}
	return last, err
}

// OSCompatibility reports the platforms the client ships on.
func (p *Plugin) OSCompatibility(gameID string) (OSCompatibility, error) {
	if err := checkGame(gameID); err != nil {
		return 0, err
	}
	return OSWindows | OSMacOS, nil
}

// UnlockedAchievements imports every completed achievement. The first time an
// achievement is seen its unlock time is recorded in the cache and reused on
// later imports.
func (p *Plugin) UnlockedAchievements(ctx context.Context, gameID string) ([]Achievement, error) {
	if err := checkGame(gameID); err != nil {
		return nil, err
	}

	names := p.account.UnlockedAchievements(ctx)
	ids := sortedIDs(names)

	imported := make(map[int]struct{}, len(ids))
	result := make([]Achievement, 0, len(ids))
	now := p.now()
	for _, id := range ids {
		imported[id] = struct{}{}
		at, err := storage.PutTimeIfAbsent(ctx, p.cache, storage.AchievementKey(id), now)
		if err != nil {
			p.logger.Warn("recording unlock time", "achievement", id, "error", err)
			at = now
		}
		result = append(result, Achievement{ID: id, Name: names[id], UnlockedAt: at})
	}

	p.mu.Lock()
	p.imported = imported
	p.mu.Unlock()
	return result, nil
}

// checkNewAchievements publishes achievements unlocked since the last import.
// Nothing happens until an import has returned at least one achievement.
func (p *Plugin) checkNewAchievements(ctx context.Context) {
	p.mu.Lock()
	started := len(p.imported) > 0
	p.mu.Unlock()
	if !started {
		return
	}

	names := p.account.UnlockedAchievements(ctx)
	now := p.now()
	for _, id := range sortedIDs(names) {
		p.mu.Lock()
		_, seen := p.imported[id]
		if !seen {
			p.imported[id] = struct{}{}
		}
		p.mu.Unlock()
		if seen {
			continue
		}

		at, err := storage.PutTimeIfAbsent(ctx, p.cache, storage.AchievementKey(id), now)
		if err != nil {
			at = now
		}
		p.logger.Info("achievement unlocked", "achievement", id)
		p.bus.Publish(TopicAchievementUnlocked, GameID, Achievement{ID: id, Name: names[id], UnlockedAt: at})
	}
}

// LocalSize returns the size of the tracked installation. ok is false when
// nothing is installed.
func (p *Plugin) LocalSize(ctx context.Context, gameID string) (size int64, ok bool, err error) {
	if err := checkGame(gameID); err != nil {
		return 0, false, err
	}
	inst := p.firstInstance()
	if inst == nil {
		return 0, false, nil
	}
	return inst.Size(ctx), true, nil
}

// Shutdown stops the handoff server and drops the credential.
func (p *Plugin) Shutdown(ctx context.Context) error {
	err := p.shutdownServer(ctx)
	p.account.Close()
	return err
}

func checkGame(gameID string) error {
	if gameID != GameID {
		return fmt.Errorf("%w: %q", ErrUnknownGame, gameID)
	}
	return nil
}

func sortedIDs(m map[int]string) []int {
	return slices.Sorted(maps.Keys(m))
}
