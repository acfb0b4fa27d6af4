package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/georgecane/contractvm/pkg/config"
)

var RootCmd = &cobra.Command{
	Use:   "opencoin",
	Short: "contractvm - a stateful WebAssembly execution engine",
	Long: `contractvm runs deterministic WebAssembly contracts against a
content-addressed commit store, with a host ABI for contract-to-contract
calls, event emission, and metered execution.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Welcome to contractvm!")
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new engine home directory",
	Run: func(cmd *cobra.Command, args []string) {
		home, _ := cmd.Flags().GetString("home")
		if err := os.MkdirAll(filepath.Join(home, "config"), 0o700); err != nil {
			fmt.Println("failed to create home:", err)
			os.Exit(1)
		}
		cfg := config.DefaultConfig()
		cfg.HomeDir = home
		cfgPath := filepath.Join(home, "config", "config.json")
		if err := config.Save(cfgPath, cfg); err != nil {
			fmt.Println("failed to save config:", err)
			os.Exit(1)
		}
		fmt.Println("Initialized engine home at", home)
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage owner identity keys",
}

func init() {
	RootCmd.PersistentFlags().String("home", filepath.Join(os.Getenv("HOME"), ".contractvm"), "engine home directory")
	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(keysCmd)
	RootCmd.AddCommand(vmCmd)

	keysCmd.AddCommand(keysAddCmd)

	vmCmd.AddCommand(vmDeployCmd)
	vmCmd.AddCommand(vmCallCmd)
	vmCmd.AddCommand(vmQueryCmd)
	vmCmd.AddCommand(vmCommitCmd)
}

func loadConfig(home string) *config.EngineConfig {
	cfgPath := filepath.Join(home, "config", "config.json")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Println("failed to load config (did you run `opencoin init`?):", err)
		os.Exit(1)
	}
	return cfg
}
