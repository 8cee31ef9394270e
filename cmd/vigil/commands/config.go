package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage vigil configuration",
	Long: `Display and manage vigil configuration settings.

Configuration sources (in order of precedence):
1. Environment variables (VIGIL_* prefix)
2. Project config (./vigil.toml or ./config.toml, searched upward)
3. UI-managed config (~/.vigil/vigil_from_ui.toml)
4. User config (~/.vigil/vigil.toml or ~/.vigil/config.toml)
5. System config (/etc/vigil/vigil.toml or /etc/vigil/config.toml)
6. Default values

Examples:
  vigil config show                     # Show current configuration
  vigil config show --format json       # Show configuration in JSON format
  vigil config set tracker.poll_interval_ms 5000`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current vigil configuration merged from all sources",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Write a configuration value using dot notation.

Values persist to the UI-managed config file with rotating backups; a
running daemon hot-reloads tracker intervals and the runner endpoint,
other keys take effect on restart.

Examples:
  vigil config set tracker.poll_interval_ms 5000
  vigil config set runner.base_url http://runner.lan:4444`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configFormat string

func init() {
	// Add flags
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json")

	// Add subcommands
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configSetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Marshal to requested format
	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# vigil configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json)", configFormat)
	}

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	value := parseSettingValue(raw)
	if err := config.UpdateSetting(key, value); err != nil {
		return errors.Wrapf(err, "failed to persist %s", key)
	}

	fmt.Printf("✓ %s = %v\n", key, value)
	fmt.Printf("  Written to %s\n", config.GetUIConfigPath())
	return nil
}

// parseSettingValue keeps TOML types faithful: numbers and bools entered on
// the command line persist as their typed values, everything else as string.
// Integers are tried before bools so "1" stays a number.
func parseSettingValue(raw string) interface{} {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
