// Package systemd reports service state to the init system. Every call is a
// no-op when the process is not running under a systemd unit.
package systemd

import "github.com/coreos/go-systemd/v22/daemon"

func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

func NotifyStatus(status string) {
	_, _ = daemon.SdNotify(false, "STATUS="+status)
}
