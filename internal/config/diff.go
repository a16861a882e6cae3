package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be hot-reloaded without restarting the server are tracked; anything
// else sets RestartRequired.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level changed; the new level
	// can be applied to the running logger.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AuthChanged is true when the client credential list changed. A new
	// token store can be swapped in; existing sessions keep running.
	AuthChanged bool

	// SegmentationChanged is true when segmentation or audio tuning
	// changed. New values apply to the next recording.
	SegmentationChanged bool

	// RestartRequired is true when the model backend, listen addresses or
	// TLS settings changed, which cannot be applied to a running process.
	RestartRequired bool
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.AuthChanged || d.SegmentationChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !credentialsEqual(old, new) {
		d.AuthChanged = true
	}

	if old.Segmentation != new.Segmentation || old.Audio != new.Audio {
		d.SegmentationChanged = true
	}

	if old.Model != new.Model ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.MetricsAddr != new.Server.MetricsAddr ||
		old.Server.AuthTimeout != new.Server.AuthTimeout ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		old.Modeld != new.Modeld {
		d.RestartRequired = true
	}

	return d
}

func credentialsEqual(old, new *Config) bool {
	if len(old.Auth.Clients) != len(new.Auth.Clients) {
		return false
	}
	for i := range old.Auth.Clients {
		if old.Auth.Clients[i] != new.Auth.Clients[i] {
			return false
		}
	}
	return true
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
