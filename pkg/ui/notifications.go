package ui

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"marketcrawl/pkg/config"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	cmd := exec.Command("notify-send", title, message)
	return cmd.Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
	cmd := exec.Command("osascript", "-e", script)
	return cmd.Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("marketcrawl").Show($toast)
	`, title, message)
	
	cmd := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	return cmd.Run()
}

// Notifier prints operator messages and mirrors them as desktop
// notifications when enabled
type Notifier struct {
	sender NotificationSender
	cfg    config.NotificationConfig
}

// NewNotifier creates a Notifier for the current platform. Desktop
// notifications are sent only for the events cfg enables, and only when
// cfg.NotificationType is "desktop".
func NewNotifier(cfg config.NotificationConfig) *Notifier {
	n := &Notifier{cfg: cfg}
	if !cfg.Enabled || cfg.NotificationType != "desktop" {
		return n
	}

	switch runtime.GOOS {
	case "linux":
		n.sender = &LinuxNotificationSender{}
	case "darwin":
		n.sender = &MacOSNotificationSender{}
	case "windows":
		n.sender = &WindowsNotificationSender{}
	}
	return n
}

func (n *Notifier) send(enabled bool, title, message string) {
	if enabled && n.sender != nil {
		// best effort
		_ = n.sender.Send(title, message)
	}
}

// SendNotification reports a throttle or other notable event
func (n *Notifier) SendNotification(title, message string) {
	fmt.Fprintf(stdout(), "\n%s: %s\n", Cyan(title), Yellow(message))
	n.send(n.cfg.OnThrottle, title, message)
}

// SendError reports a run-ending failure. It is printed even in quiet mode.
func (n *Notifier) SendError(title, message string) {
	fmt.Fprintf(os.Stderr, "\n%s: %s\n", Red(title), Red(message))
	n.send(n.cfg.OnError, title, message)
}

// SendSuccess reports a finished run
func (n *Notifier) SendSuccess(title, message string) {
	fmt.Fprintf(stdout(), "\n%s: %s\n", Green(title), Green(message))
	n.send(n.cfg.OnComplete, title, message)
}
