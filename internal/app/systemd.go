package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "taskbot/pkg/logx"
)

// sdNotify reports state to systemd when running under a notify unit. It is
// a no-op elsewhere.
func sdNotify(log logx.Logger, states ...string) {
	for _, st := range states {
		sent, err := daemon.SdNotify(false, st)
		if err != nil {
			log.Warn("systemd notify failed", logx.String("state", st), logx.Err(err))
			return
		}
		if !sent {
			return
		}
	}
}
