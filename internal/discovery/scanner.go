package discovery

import (
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Scanner finds applications launched by a supervising process by reading
// a procfs tree.
type Scanner struct {
	fs       afero.Fs
	procPath string
	launcher string
	marker   string
	logger   zerolog.Logger

	launcherPID int // 0 when unresolved
}

// Config holds scanner configuration
type Config struct {
	ProcPath string
	Launcher string // comm name of the launcher
	Marker   string // argument prefix that carries the app id, e.g. "AppId="
}

// NewScanner creates a scanner over fs. Pass afero.NewOsFs() in production.
func NewScanner(fs afero.Fs, config Config, logger zerolog.Logger) *Scanner {
	return &Scanner{
		fs:       fs,
		procPath: config.ProcPath,
		launcher: config.Launcher,
		marker:   config.Marker,
		logger:   logger.With().Str("component", "discovery").Logger(),
	}
}

// Scan returns the unique, sorted app ids of the launcher's children. A
// missing launcher yields no apps.
func (s *Scanner) Scan() ([]string, error) {
	if s.launcherPID == 0 {
		pid, err := s.findLauncher()
		if err != nil {
			return nil, err
		}
		if pid == 0 {
			return nil, nil
		}
		s.launcherPID = pid
		s.logger.Info().Str("launcher", s.launcher).Int("pid", pid).Msg("Launcher found")
	}

	taskDir := path.Join(s.procPath, strconv.Itoa(s.launcherPID), "task")
	tasks, err := afero.ReadDir(s.fs, taskDir)
	if err != nil {
		s.logger.Info().Str("launcher", s.launcher).Int("pid", s.launcherPID).Msg("Launcher exited")
		s.launcherPID = 0
		return nil, nil
	}

	seen := make(map[string]struct{})
	for _, task := range tasks {
		data, err := afero.ReadFile(s.fs, path.Join(taskDir, task.Name(), "children"))
		if err != nil {
			continue
		}

		for _, field := range strings.Fields(string(data)) {
			pid, err := strconv.Atoi(field)
			if err != nil {
				continue
			}
			if appID, ok := s.appID(pid); ok {
				seen[appID] = struct{}{}
			}
		}
	}

	apps := make([]string, 0, len(seen))
	for app := range seen {
		apps = append(apps, app)
	}
	sort.Strings(apps)

	return apps, nil
}

func (s *Scanner) findLauncher() (int, error) {
	entries, err := afero.ReadDir(s.fs, s.procPath)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || !entry.IsDir() {
			continue
		}

		comm, err := afero.ReadFile(s.fs, path.Join(s.procPath, entry.Name(), "comm"))
		if err != nil {
			continue
		}
		if strings.TrimSuffix(string(comm), "\n") == s.launcher {
			return pid, nil
		}
	}

	return 0, nil
}

// appID extracts the numeric app id following the marker in a process's
// NUL-separated command line.
func (s *Scanner) appID(pid int) (string, bool) {
	cmdline, err := afero.ReadFile(s.fs, path.Join(s.procPath, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return "", false
	}

	for _, arg := range strings.Split(string(cmdline), "\x00") {
		idx := strings.Index(arg, s.marker)
		if idx < 0 {
			continue
		}
		value := arg[idx+len(s.marker):]
		if _, err := strconv.ParseUint(value, 10, 64); err != nil {
			return "", false
		}
		return value, true
	}

	return "", false
}
