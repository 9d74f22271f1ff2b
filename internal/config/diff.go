package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied to a running client are tracked; everything else needs a
// restart and is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ModeChanged bool
	NewMode     Mode

	// RestartRequired lists the top-level sections whose changes are not
	// applied until the process restarts.
	RestartRequired []string
}

// Empty reports whether the diff carries nothing to apply or report.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ModeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Session.Mode != new.Session.Mode {
		d.ModeChanged = true
		d.NewMode = new.Session.Mode
	}

	// Client-Id is regenerated on every load when unset, so it is left out.
	oc, nc := old.Connection, new.Connection
	oc.ClientID, nc.ClientID = "", ""
	if oc != nc {
		d.RestartRequired = append(d.RestartRequired, "connection")
	}
	if old.Server.HealthAddr != new.Server.HealthAddr {
		d.RestartRequired = append(d.RestartRequired, "server.health_addr")
	}
	if old.Session.WakePhrase != new.Session.WakePhrase {
		d.RestartRequired = append(d.RestartRequired, "session.wake_phrase")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Playback != new.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Reconnect != new.Reconnect {
		d.RestartRequired = append(d.RestartRequired, "reconnect")
	}
	return d
}
