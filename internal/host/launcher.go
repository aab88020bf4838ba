package host

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// pathCommands are tried on PATH after the install locations.
var pathCommands = []string{"antigravity", "Antigravity"}

// DetectExecutable returns the executable Start would launch: the
// configured one if it exists, then the per-OS install locations, then
// PATH. On macOS this may be an .app bundle.
func (c *ProcessController) DetectExecutable() (string, error) {
	if c.executable != "" {
		if info, err := os.Stat(c.executable); err == nil && (info.Mode().IsRegular() || isAppBundle(c.executable)) {
			return c.executable, nil
		}
		c.log.WithField("executable", c.executable).Warn("configured host executable not found, falling back to auto-detection")
	}

	var tried []string
	for _, path := range c.candidates() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		tried = append(tried, path)
	}

	for _, name := range pathCommands {
		if path, err := c.lookPath(name); err == nil {
			return path, nil
		}
		tried = append(tried, name+" (PATH)")
	}

	return "", fmt.Errorf("%w; tried: %s", ErrExecutableNotFound, strings.Join(tried, ", "))
}

func (c *ProcessController) spawn(path string) error {
	var cmd *exec.Cmd
	if isAppBundle(path) {
		cmd = exec.Command("open", "-g", path)
	} else {
		cmd = exec.Command(path)
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = DetachedAttr()

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func isAppBundle(path string) bool {
	return runtime.GOOS == "darwin" && strings.HasSuffix(strings.TrimSuffix(path, "/"), ".app")
}

// installCandidates lists the usual install locations for this OS.
func installCandidates() []string {
	home, _ := os.UserHomeDir()

	switch runtime.GOOS {
	case "windows":
		var paths []string
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			paths = append(paths, filepath.Join(dir, "Programs", "Antigravity", "Antigravity.exe"))
		}
		if dir := os.Getenv("PROGRAMFILES"); dir != "" {
			paths = append(paths, filepath.Join(dir, "Antigravity", "Antigravity.exe"))
		}
		return paths
	case "darwin":
		return []string{
			"/Applications/Antigravity.app",
			filepath.Join(home, "Applications", "Antigravity.app"),
			"/Applications/Antigravity-electron.app",
			filepath.Join(home, "Applications", "Antigravity-electron.app"),
		}
	default:
		return []string{
			"/usr/share/antigravity/antigravity",
			"/opt/Antigravity/antigravity",
			"/usr/local/bin/antigravity",
			filepath.Join(home, ".local", "share", "antigravity", "antigravity"),
		}
	}
}
