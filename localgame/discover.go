package localgame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/beevik/etree"
)

const (
	DefaultMacAppDir     = "/Applications/Guild Wars 2 64-bit.app"
	DefaultMacExecutable = "Contents/MacOS/GuildWars2"
)

// Discoverer finds the installations present on this machine.
type Discoverer interface {
	Discover(ctx context.Context) ([]Instance, error)
}

// NewDiscoverer returns the discoverer for the running platform. Platforms
// the game does not ship on get one that never finds anything.
func NewDiscoverer(logger *slog.Logger) Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	switch runtime.GOOS {
	case "darwin":
		return &MacDiscoverer{}
	case "windows":
		return &WindowsDiscoverer{Logger: logger}
	default:
		return noDiscoverer{}
	}
}

type noDiscoverer struct{}

func (noDiscoverer) Discover(context.Context) ([]Instance, error) {
	return nil, nil
}

// MacDiscoverer checks the fixed application bundle location.
type MacDiscoverer struct {
	AppDir     string
	Executable string
}

func (m *MacDiscoverer) Discover(ctx context.Context) ([]Instance, error) {
	inst := Instance{Dir: m.AppDir, Executable: m.Executable}
	if inst.Dir == "" {
		inst.Dir = DefaultMacAppDir
	}
	if inst.Executable == "" {
		inst.Executable = DefaultMacExecutable
	}
	if !isFile(inst.ExePath()) {
		return nil, nil
	}
	return []Instance{inst}, nil
}

// WindowsDiscoverer reads the GFXSettings files the client writes next to its
// per-user configuration. Each names an install directory and executable.
type WindowsDiscoverer struct {
	// ConfigDir defaults to %APPDATA%\Guild Wars 2.
	ConfigDir string
	Logger    *slog.Logger
}

func (w *WindowsDiscoverer) configDir() string {
	if w.ConfigDir != "" {
		return w.ConfigDir
	}
	return filepath.Join(os.Getenv("APPDATA"), "Guild Wars 2")
}

func (w *WindowsDiscoverer) Discover(ctx context.Context) ([]Instance, error) {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "localgame")

	dir := w.configDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var found []Instance
	for _, e := range entries {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		if e.IsDir() || !isSettingsFile(e.Name()) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		inst, err := readSettings(path)
		if err != nil {
			logger.Warn("skipping settings file", "path", path, "error", err)
			continue
		}
		if !isFile(inst.ExePath()) {
			logger.Debug("settings point at missing executable", "path", path, "exe", inst.ExePath())
			continue
		}
		found = append(found, inst)
	}
	return found, nil
}

func isSettingsFile(name string) bool {
	name = strings.ToLower(name)
	return strings.HasPrefix(name, "gfxsettings") && strings.HasSuffix(name, ".exe.xml")
}

var errInvalidSettings = errors.New("invalid settings file")

func readSettings(path string) (Instance, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return Instance{}, err
	}
	root := doc.Root()
	if root == nil {
		return Instance{}, fmt.Errorf("%w: empty document", errInvalidSettings)
	}

	installPath := root.FindElement("APPLICATION/INSTALLPATH")
	executable := root.FindElement("APPLICATION/EXECUTABLE")
	if installPath == nil || executable == nil {
		return Instance{}, fmt.Errorf("%w: missing APPLICATION/INSTALLPATH or APPLICATION/EXECUTABLE", errInvalidSettings)
	}

	inst := Instance{
		Dir:        installPath.SelectAttrValue("Value", ""),
		Executable: executable.SelectAttrValue("Value", ""),
	}
	if inst.Dir == "" || inst.Executable == "" {
		return Instance{}, fmt.Errorf("%w: empty install path or executable", errInvalidSettings)
	}
	return inst, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
