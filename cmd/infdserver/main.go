// Command infdserver is the collaborative text-editing server's CLI
// surface (§6.4): a thin cobra wrapper that loads a configuration
// file, binds override flags onto it, and starts or provisions the
// server. The core (directory, session, OT engine) knows nothing
// about cobra, viper, or the network; this package is purely the
// collaborator that wires it all together.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/infdserver/internal/cfgstruct"
)

// Exit codes per §6.4: 0 clean shutdown, 1 startup failure, 2 fatal
// runtime error.
const (
	exitOK             = 0
	exitStartupFailure = 1
	exitRuntimeFailure = 2
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "infdserver",
		Short: "Collaborative text-editing server",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/TOML/JSON configuration file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newSetupCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStartupFailure)
	}
}

// loadConfig binds cfg's flags onto cmd, then overlays values from
// INFD_-prefixed environment variables and, if --config names a file,
// from that file on top of the struct's own defaults, unmarshalling
// the result back into cfg. No other config file is searched for.
func loadConfig(cmd *cobra.Command, cfg interface{}, confDir string) error {
	cfgstruct.Bind(cmd.Flags(), cfg, cfgstruct.ConfDir(confDir))

	v := viper.New()
	v.SetEnvPrefix("INFD")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

func defaultConfDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "infdserver")
}
