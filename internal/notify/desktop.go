package notify

import (
	"os/exec"

	"go.uber.org/zap"
)

// DesktopNotifier shells out to the freedesktop notify-send tool. Machines
// without it (headless boxes, CI) simply run the bridge in degraded mode.
type DesktopNotifier struct {
	logger *zap.Logger
}

// NewDesktopNotifier creates the default platform notifier.
func NewDesktopNotifier(logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{logger: logger}
}

// RequestPermission reports whether notify-send is available. There is no
// runtime permission dialog on the desktop.
func (d *DesktopNotifier) RequestPermission() (bool, error) {
	_, err := exec.LookPath("notify-send")
	return err == nil, nil
}

// Notify shows an immediate notification. The payload has no desktop
// representation; routing on tap is a frontend concern.
func (d *DesktopNotifier) Notify(title, body string, _ Payload) error {
	return exec.Command("notify-send", "--app-name=coachlink", title, body).Run()
}

// SetBadge is a no-op: freedesktop notifications have no badge counter.
func (d *DesktopNotifier) SetBadge(int) error {
	return nil
}
