// Package cmd holds the CLI surface: a root command that loads
// configuration and a serve subcommand that runs the service.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prateekraj3711-alt/PwC/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pwc-portal-agent",
	Short: "Automates the compliance portal login flow and hands sessions to the export service.",
}

// Execute runs the CLI with a context that main cancels on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.AddCommand(serveCmd)
}

// initializeConfig installs defaults, reads the optional config file, and
// binds the environment. Returns the validated configuration.
func initializeConfig() (*config.Config, error) {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PWC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credentials are environment-only; bind both the structured names
	// and convenient short forms.
	_ = v.BindEnv("portal.username", "PWC_USERNAME", "PWC_PORTAL_USERNAME")
	_ = v.BindEnv("portal.password", "PWC_PASSWORD", "PWC_PORTAL_PASSWORD")
	_ = v.BindEnv("export.base_url", "PWC_EXPORT_BASE_URL", "EXPORT_SERVICE_URL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults plus environment carry it.
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
