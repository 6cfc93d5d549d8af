package notify

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier sends desktop notifications
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(ctx context.Context, n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(ctx, n)
	case "linux":
		return d.sendLinux(ctx, n)
	default:
		return nil // Unsupported
	}
}

func (d *DesktopNotifier) sendMacOS(ctx context.Context, n Notification) error {
	script := `display notification "` + appleScriptEscape(n.Message) + `" with title "` + appleScriptEscape(n.Title) + `"`
	return exec.CommandContext(ctx, "osascript", "-e", script).Run()
}

func (d *DesktopNotifier) sendLinux(ctx context.Context, n Notification) error {
	return exec.CommandContext(ctx, "notify-send", "--icon", IconForType(n.Type), n.Title, n.Message).Run()
}

func appleScriptEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
