package plugin

import (
	"time"

	"github.com/jmcleod/gw2link/presence"
)

const (
	GameID   = "guild_wars_2"
	GameName = "Guild Wars 2"

	// InstallURL is where new players download the client.
	InstallURL = "https://account.arena.net/welcome"

	// CredentialAPIKey is the key under which the API key is persisted.
	CredentialAPIKey = "api_key"
)

// Event topics published on the plugin's bus.
const (
	// TopicLocalGameChanged carries a LocalGame.
	TopicLocalGameChanged = "localgame:changed"
	// TopicAchievementUnlocked carries the game id and an Achievement.
	TopicAchievementUnlocked = "achievement:unlocked"
)

// Credentials is what the host persists between sessions.
type Credentials map[string]string

// Authentication identifies the logged in account.
type Authentication struct {
	UserID   string
	UserName string
}

// AuthParams describes the embedded browser window the host opens.
type AuthParams struct {
	WindowTitle  string
	WindowWidth  int
	WindowHeight int
	StartURI     string
	EndURIRegex  string
}

// NextStep asks the host to run a web session before calling
// PassLoginCredentials.
type NextStep struct {
	Kind   string
	Params AuthParams
}

type LicenseType int

const (
	LicenseSinglePurchase LicenseType = iota
	LicenseFreeToPlay
)

func (l LicenseType) String() string {
	if l == LicenseFreeToPlay {
		return "free_to_play"
	}
	return "single_purchase"
}

type DLC struct {
	ID      string
	Title   string
	License LicenseType
}

type Game struct {
	ID      string
	Title   string
	DLCs    []DLC
	License LicenseType
}

type LocalGame struct {
	GameID string
	State  presence.State
}

// GameTime is the accumulated play time. LastPlayed is zero when the game has
// never been seen running.
type GameTime struct {
	GameID        string
	MinutesPlayed int64
	LastPlayed    time.Time
}

type Achievement struct {
	ID         int
	Name       string
	UnlockedAt time.Time
}

// OSCompatibility is a set of supported platforms.
type OSCompatibility int

const (
	OSWindows OSCompatibility = 1 << iota
	OSMacOS
)
