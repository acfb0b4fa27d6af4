package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/georgecane/contractvm/pkg/crypto"
	"github.com/georgecane/contractvm/pkg/types"
	"github.com/georgecane/contractvm/pkg/vm"
)

var vmCmd = &cobra.Command{
	Use:   "vm",
	Short: "Deploy and call contracts against the commit store",
}

func openVm(home string) *vm.Vm {
	cfg := loadConfig(home)
	storePath := filepath.Join(home, cfg.Store.Path)
	v, err := vm.Open(context.Background(), storePath, cfg.Gas)
	if err != nil {
		fmt.Println("failed to open vm:", err)
		os.Exit(1)
	}
	return v
}

func defaultMeta() map[string][]byte {
	return map[string][]byte{"height": []byte("0")}
}

func loadOwner(home, keyName string) (*crypto.Ed25519KeyPair, []byte) {
	keyPath := filepath.Join(home, "config", "keys", keyName+".json")
	kp, err := crypto.LoadEd25519(keyPath)
	if err != nil {
		fmt.Println("failed to load key:", err)
		os.Exit(1)
	}
	owner, err := crypto.OwnerFromPubKey(kp.PublicKey)
	if err != nil {
		fmt.Println("failed to derive owner:", err)
		os.Exit(1)
	}
	ownerBytes, err := crypto.DecodeOwner(owner)
	if err != nil {
		fmt.Println("failed to decode owner:", err)
		os.Exit(1)
	}
	return kp, ownerBytes
}

func decodeHexFlag(cmd *cobra.Command, name string) []byte {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		fmt.Printf("invalid hex for --%s: %v\n", name, err)
		os.Exit(1)
	}
	return b
}

var vmDeployCmd = &cobra.Command{
	Use:   "deploy [bytecode-path]",
	Short: "Deploy a contract and commit the result",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		home, _ := cmd.Flags().GetString("home")
		keyName, _ := cmd.Flags().GetString("key")
		nonce, _ := cmd.Flags().GetUint64("nonce")
		gasLimit, _ := cmd.Flags().GetUint64("gas")
		initArgs := decodeHexFlag(cmd, "init-args")

		bytecode, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Println("failed to read bytecode:", err)
			os.Exit(1)
		}

		v := openVm(home)
		defer v.Close()
		_, ownerBytes := loadOwner(home, keyName)

		sess, err := v.LatestSession(defaultMeta())
		if err != nil {
			fmt.Println("failed to open session:", err)
			os.Exit(1)
		}

		id, err := sess.DeployContract(bytecode, initArgs, ownerBytes, nonce, gasLimit)
		if err != nil {
			fmt.Println("deploy failed:", err)
			os.Exit(1)
		}
		newRoot, err := sess.Commit()
		if err != nil {
			fmt.Println("commit failed:", err)
			os.Exit(1)
		}
		fmt.Printf("deployed contract %s\nnew root %s\n", id.String(), newRoot.String())
	},
}

var vmCallCmd = &cobra.Command{
	Use:   "call",
	Short: "Call an exported contract function and commit the result",
	Run: func(cmd *cobra.Command, args []string) {
		home, _ := cmd.Flags().GetString("home")
		contractHex, _ := cmd.Flags().GetString("contract")
		function, _ := cmd.Flags().GetString("function")
		gasLimit, _ := cmd.Flags().GetUint64("gas")
		callArgs := decodeHexFlag(cmd, "args")

		id, err := types.ContractIdFromHex(contractHex)
		if err != nil {
			fmt.Println("invalid --contract:", err)
			os.Exit(1)
		}

		v := openVm(home)
		defer v.Close()

		sess, err := v.LatestSession(defaultMeta())
		if err != nil {
			fmt.Println("failed to open session:", err)
			os.Exit(1)
		}

		result, spent, events, err := sess.Call(id, function, callArgs, gasLimit)
		if err != nil {
			fmt.Println("call failed:", err)
			os.Exit(1)
		}
		root, err := sess.Commit()
		if err != nil {
			fmt.Println("commit failed:", err)
			os.Exit(1)
		}
		fmt.Printf("result %s\ngas spent %d\nnew root %s\n", hex.EncodeToString(result), spent, root.String())
		for _, ev := range events {
			fmt.Printf("event source=%s topic=%s data=%s\n", ev.Source.String(), ev.Topic, hex.EncodeToString(ev.Data))
		}
	},
}

var vmQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Call an exported contract function without committing",
	Run: func(cmd *cobra.Command, args []string) {
		home, _ := cmd.Flags().GetString("home")
		contractHex, _ := cmd.Flags().GetString("contract")
		function, _ := cmd.Flags().GetString("function")
		gasLimit, _ := cmd.Flags().GetUint64("gas")
		callArgs := decodeHexFlag(cmd, "args")

		id, err := types.ContractIdFromHex(contractHex)
		if err != nil {
			fmt.Println("invalid --contract:", err)
			os.Exit(1)
		}

		v := openVm(home)
		defer v.Close()

		sess, err := v.LatestSession(defaultMeta())
		if err != nil {
			fmt.Println("failed to open session:", err)
			os.Exit(1)
		}
		defer sess.Drop()

		result, spent, _, err := sess.Call(id, function, callArgs, gasLimit)
		if err != nil {
			fmt.Println("query failed:", err)
			os.Exit(1)
		}
		fmt.Printf("result %s\ngas spent %d\n", hex.EncodeToString(result), spent)
	},
}

var vmCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Print the store's latest committed root",
	Run: func(cmd *cobra.Command, args []string) {
		home, _ := cmd.Flags().GetString("home")
		v := openVm(home)
		defer v.Close()
		root, ok := v.LatestRoot()
		if !ok {
			fmt.Println("store has no commits yet")
			return
		}
		fmt.Println("latest root", root.String())
	},
}

func init() {
	vmDeployCmd.Flags().String("key", "", "owner key name")
	vmDeployCmd.Flags().Uint64("nonce", 0, "deploy nonce")
	vmDeployCmd.Flags().Uint64("gas", 1_000_000, "gas limit")
	vmDeployCmd.Flags().String("init-args", "", "hex-encoded init arguments")

	vmCallCmd.Flags().String("contract", "", "hex-encoded contract id")
	vmCallCmd.Flags().String("function", "", "exported function name")
	vmCallCmd.Flags().Uint64("gas", 1_000_000, "gas limit")
	vmCallCmd.Flags().String("args", "", "hex-encoded call arguments")

	vmQueryCmd.Flags().String("contract", "", "hex-encoded contract id")
	vmQueryCmd.Flags().String("function", "", "exported function name")
	vmQueryCmd.Flags().Uint64("gas", 1_000_000, "gas limit")
	vmQueryCmd.Flags().String("args", "", "hex-encoded call arguments")
}
