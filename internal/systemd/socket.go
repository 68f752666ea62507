package systemd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// MetricsListenerName is the FileDescriptorName= of the metrics socket in
// playtime.socket.
const MetricsListenerName = "metrics"

// Listeners holds all systemd-activated listeners
type Listeners struct {
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors
// Returns nil listeners if not running under socket activation
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{
		Activated: false,
	}

	// Not running under socket activation
	if os.Getenv("LISTEN_FDS") == "" {
		return listeners, nil
	}

	// Try to get listeners by name (requires systemd 227+)
	listenersMap, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	listeners.Activated = len(listenersMap) > 0

	if lns, ok := listenersMap[MetricsListenerName]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners, nil
}

// NotifyReady sends READY=1 notification to systemd
// This tells systemd that the service has finished starting up
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
// This tells systemd that the service is shutting down
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// NotifyWatchdog sends WATCHDOG=1 notification to systemd
// This should be called periodically to prevent watchdog timeout
func NotifyWatchdog() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		return fmt.Errorf("failed to send sd_notify watchdog: %w", err)
	}
	return nil
}

// IsSystemdService returns true if running as a systemd service
func IsSystemdService() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}

// Watchdog pings the systemd watchdog at half the configured WatchdogSec.
// Kick is cheap enough to call on every scheduler wake-up.
type Watchdog struct {
	interval time.Duration // zero when the watchdog is disabled
	last     time.Time
}

// NewWatchdog reads the watchdog interval from the environment.
func NewWatchdog() (*Watchdog, error) {
	timeout, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return nil, fmt.Errorf("failed to read watchdog settings: %w", err)
	}
	return &Watchdog{interval: timeout / 2}, nil
}

// Enabled reports whether systemd expects watchdog pings.
func (w *Watchdog) Enabled() bool {
	return w.interval > 0
}

// Kick notifies systemd when at least half the timeout has passed since the
// last notification.
func (w *Watchdog) Kick() {
	if !w.Enabled() {
		return
	}
	now := time.Now()
	if now.Sub(w.last) < w.interval {
		return
	}
	w.last = now
	_ = NotifyWatchdog()
}
