// Package localgame locates Guild Wars 2 installations on disk and starts the
// game client.
package localgame

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/jmcleod/gw2link/internal/apperr"
)

// ErrExecutableNotFound is returned by Launch and Uninstall when the client
// binary is no longer on disk.
var ErrExecutableNotFound = apperr.New(apperr.KindNotFound, "localgame", "game executable not found")

// Instance is one installation: the install directory and the executable path
// relative to it.
type Instance struct {
	Dir        string
	Executable string
}

// ExePath is the absolute path of the game binary.
func (i Instance) ExePath() string {
	return filepath.Join(i.Dir, i.Executable)
}

// ExeName is the base name of the game binary, as it appears in a process list.
func (i Instance) ExeName() string {
	return filepath.Base(i.Executable)
}

// Size sums the sizes of the regular files under Dir. Symlinks are not
// followed. Unreadable entries are logged and skipped. If ctx is cancelled
// mid-walk the sum so far is returned.
func (i Instance) Size(ctx context.Context) int64 {
	return dirSize(ctx, i.Dir, logger(), nil)
}

// dirSize walks root. onFile, when set, is called after each counted file.
func dirSize(ctx context.Context, root string, logger *slog.Logger, onFile func(path string, size int64)) int64 {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			logger.Warn("skipping unreadable entry", "path", path, "error", err)
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		total += info.Size()
		if onFile != nil {
			onFile(path, info.Size())
		}
		return nil
	})
	if err != nil {
		logger.Warn("size walk failed", "dir", root, "error", err)
	}
	if ctx.Err() != nil {
		logger.Warn("size walk cancelled", "dir", root, "partial", total)
	}
	return total
}

// Launch starts the game client with Dir as its working directory. The
// process is not waited on by the caller.
func (i Instance) Launch() error {
	return i.spawn()
}

// Uninstall starts the client's own uninstaller.
func (i Instance) Uninstall() error {
	return i.spawn("--uninstall")
}

func (i Instance) spawn(args ...string) error {
	exe := i.ExePath()
	if _, err := os.Stat(exe); err != nil {
		return fmt.Errorf("%s: %w", exe, ErrExecutableNotFound)
	}

	cmd := exec.Command(exe, args...)
	cmd.Dir = i.Dir
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return apperr.Wrap(apperr.KindDomain, "localgame.spawn", "starting "+exe, err)
	}

	log := logger()
	log.Info("game process started", "exe", exe, "pid", cmd.Process.Pid, "args", args)
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug("game process exited", "exe", exe, "error", err)
		}
	}()
	return nil
}

func logger() *slog.Logger {
	return slog.Default().With("component", "localgame")
}
