package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/georgecane/contractvm/pkg/crypto"
)

var keysAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Generate a new owner identity key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		home, _ := cmd.Flags().GetString("home")
		keyDir := filepath.Join(home, "config", "keys")
		if err := os.MkdirAll(keyDir, 0o700); err != nil {
			fmt.Println("failed to create key dir:", err)
			os.Exit(1)
		}
		kp, err := crypto.GenerateEd25519()
		if err != nil {
			fmt.Println("failed to generate key:", err)
			os.Exit(1)
		}
		path := filepath.Join(keyDir, args[0]+".json")
		if err := crypto.SaveEd25519(path, kp); err != nil {
			fmt.Println("failed to save key:", err)
			os.Exit(1)
		}
		owner, err := crypto.OwnerFromPubKey(kp.PublicKey)
		if err != nil {
			fmt.Println("failed to derive owner:", err)
			os.Exit(1)
		}
		fmt.Printf("Created key %s owner %s\n", args[0], owner)
	},
}
