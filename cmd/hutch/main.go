package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hutchhq/hutch/pkg/app"
	"github.com/hutchhq/hutch/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// serverConfig is the optional YAML configuration file. Flags given
// on the command line win over file values.
type serverConfig struct {
	BaseDir    string `yaml:"baseDir"`
	LocalDir   string `yaml:"localDir"`
	HTTP       string `yaml:"http"`
	LogLevel   string `yaml:"logLevel"`
	JSONLog    bool   `yaml:"jsonLog"`
	Properties string `yaml:"properties"`
	Realm      string `yaml:"realm"`
}

func defaultConfig() serverConfig {
	return serverConfig{
		BaseDir:  ".",
		LocalDir: "local",
		HTTP:     ":8080",
		LogLevel: "info",
	}
}

func loadConfig(file string) (serverConfig, error) {
	cfg := defaultConfig()
	if file == "" {
		return cfg, nil
	}
	body, err := os.ReadFile(file)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %v", err)
	}
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %v", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hutch",
	Short: "Hutch - extensible application server kernel",
	Long: `Hutch is an application server kernel built around a layered
object store: plug-ins overlay configuration and code onto a shared
tree, procedures run against pooled connections, and web services
dispatch by declarative matchers.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hutch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("base-dir", "", "base directory holding the system plug-in")
	rootCmd.PersistentFlags().String("local-dir", "", "writable data directory")

	serverCmd.Flags().String("http", ":8080", "HTTP listen address")
	serverCmd.Flags().String("properties", "", "JSON file preloading the configuration")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(pluginCmd)
	pluginCmd.AddCommand(pluginInstallCmd)
	pluginCmd.AddCommand(pluginListCmd)
}

// configFor merges the config file with the command line flags.
func configFor(cmd *cobra.Command) (serverConfig, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(file)
	if err != nil {
		return cfg, err
	}
	if v, _ := cmd.Flags().GetString("base-dir"); v != "" {
		cfg.BaseDir = v
	}
	if v, _ := cmd.Flags().GetString("local-dir"); v != "" {
		cfg.LocalDir = v
	}
	if cmd.Flags().Changed("http") {
		cfg.HTTP, _ = cmd.Flags().GetString("http")
	}
	if v, _ := cmd.Flags().GetString("properties"); v != "" {
		cfg.Properties = v
	}
	return cfg, nil
}

func initContext(cfg serverConfig, httpAddr string) (*app.Context, error) {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.JSONLog,
	})
	return app.Init(cfg.BaseDir, cfg.LocalDir, app.Options{
		HTTPAddr:   httpAddr,
		Properties: cfg.Properties,
		Realm:      cfg.Realm,
		Version:    Version,
	})
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the application server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFor(cmd)
		if err != nil {
			return err
		}
		a, err := initContext(cfg, cfg.HTTP)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %v", err)
		}
		if err := a.Start(); err != nil {
			a.Stop()
			return fmt.Errorf("failed to start server: %v", err)
		}
		fmt.Printf("Server listening on %s (data in %s)\n", a.Addr(), cfg.LocalDir)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		if err := a.Stop(); err != nil {
			return fmt.Errorf("shutdown failed: %v", err)
		}
		fmt.Println("✓ Server stopped")
		return nil
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage plug-in bundles",
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install <bundle.zip>",
	Short: "Install a plug-in bundle into the local data directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFor(cmd)
		if err != nil {
			return err
		}
		a, err := initContext(cfg, "")
		if err != nil {
			return err
		}
		defer a.Stop()

		id, err := a.InstallPlugin(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Installed plugin %s from %s\n", id, filepath.Base(args[0]))
		return nil
	},
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plug-ins",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFor(cmd)
		if err != nil {
			return err
		}
		a, err := initContext(cfg, "")
		if err != nil {
			return err
		}
		defer a.Stop()

		ids, err := a.Plugins().Installed()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No plugins installed.")
			return nil
		}
		enabled := make(map[string]bool)
		for _, id := range a.Config().GetStrings("plugins") {
			enabled[id] = true
		}
		for _, id := range ids {
			state := "installed"
			if enabled[id] {
				state = "enabled"
			}
			fmt.Printf("  %-24s %s\n", id, state)
		}
		return nil
	},
}
