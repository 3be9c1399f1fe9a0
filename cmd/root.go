// -- cmd/root.go --
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet-cli/internal/config"
	"github.com/xkilldash9x/lancet-cli/internal/observability"
)

var (
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "lancet-cli",
	Short: "Lancet finds host header poisoning flows in PHP codebases.",
	// Version is dynamically set at build time. See cmd/version.go.
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Runs before any command, setting up config and logging.
		if err := initializeConfig(); err != nil {
			return err
		}

		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			// Fall back to a usable logger so the error itself gets reported.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "lancet"})
			return err
		}

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting Lancet", zap.String("version", Version))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newRulesCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initializeConfig reads in the config file and LANCET_* environment variables.
func initializeConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())

	viper.SetEnvPrefix("LANCET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No ./config.yaml; fall back to ~/.lancet.yaml before giving up and
		// running on defaults plus environment.
		if cfgFile == "" {
			if home, homeErr := os.UserHomeDir(); homeErr == nil {
				viper.SetConfigName(".lancet")
				viper.AddConfigPath(home)
				if err := viper.ReadInConfig(); err != nil {
					if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
						return fmt.Errorf("error reading config file: %w", err)
					}
				}
			}
		}
	}
	return nil
}
