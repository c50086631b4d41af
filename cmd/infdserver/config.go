package main

import "time"

// RunConfig is the full set of flags the run command accepts, bound
// onto its FlagSet by internal/cfgstruct so every field gets a
// dotted, kebab-cased flag and a viper key of the same name.
type RunConfig struct {
	Listen string `default:":6523" usage:"address to accept client connections on"`

	Log struct {
		Level    string `default:"info" usage:"debug, info, warn, or error"`
		Encoding string `default:"console" usage:"console or json"`
	}

	Metrics struct {
		Enabled bool   `default:"false" usage:"serve /healthz and /metrics"`
		Listen  string `default:":6524" usage:"address for the metrics/health endpoint"`
	}

	ACL struct {
		TransformationLimit uint64 `default:"200" usage:"max allowed vdiff before a request is refused"`
	}

	Session struct {
		AutosaveInterval time.Duration `default:"30s" usage:"how often a running session's buffer is flushed to storage; 0 disables autosave"`
	}

	Plugins struct {
		LineKeeperLines int  `default:"-1" usage:"enforce N trailing newlines on every leaf document; -1 disables the plugin"`
		TrafficLogging  bool `default:"false" usage:"log every wire fragment at debug level"`
	}

	AccountCache struct {
		RedisAddr string        `default:"" usage:"redis address for the shared account cache; empty disables it"`
		TTL       time.Duration `default:"5m" usage:"how long a cached account entry is trusted"`
	}

	RejoinKeyPath string `default:"$CONFDIR/rejoin.key" usage:"path to the ECDSA signing key used for user-rejoin tokens"`
}

// SetupConfig is the flag set accepted by the setup command.
type SetupConfig struct {
	RejoinKeyPath string `default:"$CONFDIR/rejoin.key" usage:"where to write the generated ECDSA signing key"`
}
