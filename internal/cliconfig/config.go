// Package cliconfig resolves mindcachectl's runtime configuration from
// persistent flags, environment variables and an optional config file,
// in the teacher CLI's viper-backed config idiom.
package cliconfig

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dh7/mindcache/pkg/env"
)

// Config is mindcachectl's resolved configuration for one invocation.
type Config struct {
	APIURL       string        `mapstructure:"api_url"`
	UserID       string        `mapstructure:"user_id"`
	OutputFormat string        `mapstructure:"output_format"`
	Verbose      bool          `mapstructure:"verbose"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Init registers mindcachectl's persistent flags on root and binds each
// to its viper key, so flags, a config file and MINDCACHE_* environment
// variables all resolve through the same Config.
func Init(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.String("api-url", env.CLIAPIURL.Get(), "MindCache authority API URL")
	flags.String("user-id", env.CLIUserID.Get(), "Identity presented as X-User-Id in unsecure auth mode")
	flags.StringP("output-format", "o", "table", "Output format: table or json")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.Duration("timeout", env.CLITimeout.Get(), "Per-request timeout")

	_ = viper.BindPFlag("api_url", flags.Lookup("api-url"))
	_ = viper.BindPFlag("user_id", flags.Lookup("user-id"))
	_ = viper.BindPFlag("output_format", flags.Lookup("output-format"))
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("timeout", flags.Lookup("timeout"))

	viper.SetEnvPrefix("mindcache")
	viper.AutomaticEnv()
}

// Get unmarshals the current viper state into a Config. Call after
// cobra has parsed flags (typically at the start of a command's RunE).
func Get() (*Config, error) {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
