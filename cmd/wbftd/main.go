// Package main provides the entry point for the consensus daemon.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ahwlsqja/wbft-cosmos/crypto"
	"github.com/ahwlsqja/wbft-cosmos/node"
)

const version = "0.1.0"

var cfgFile string

func main() {
	// .env 파일이 있으면 환경 변수로 로드 (없어도 무시)
	_ = godotenv.Load()

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wbftd",
		Short: "Weighted BFT consensus daemon",
		Long: `wbftd runs a validator node for a weighted BFT network.
Voting power is derived from stake and provided storage, and misbehaving
validators are slashed and jailed automatically.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./wbftd.yaml)")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the consensus node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runNode(cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("chain-id", "wbft-chain", "Chain identifier")
	flags.String("listen", "0.0.0.0:26656", "P2P listen address")
	flags.String("api", "0.0.0.0:26660", "HTTP API and metrics address")
	flags.String("key-file", "", "Node key file (default <data-dir>/node_key)")
	flags.String("data-dir", "./data", "Data directory")
	flags.StringSlice("peers", nil, "Peer list (hexID@host:port)")
	flags.String("sync-peer", "", "Peer address to catch up from before joining")
	flags.Uint64("stake", 1_000_000, "Self stake for dev mode registration")
	flags.Uint64("storage", 1<<30, "Self provided storage bytes for dev mode registration")
	flags.Bool("dev", false, "Dev mode: relax validator set checks")
	flags.Bool("metrics", true, "Enable Prometheus metrics")
	flags.Uint64("slash-double-sign", 10, "Slash percentage for double signing")
	flags.Uint64("slash-liveness", 1, "Slash percentage for liveness faults")

	viper.BindPFlags(flags)

	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <path>",
		Short: "Generate a node key and print its validator ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			path := args[0]
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			encoded := hex.EncodeToString(kp.PrivateKeyBytes())
			if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
				return err
			}
			id := crypto.ValidatorID(kp.PublicKeyBytes())
			fmt.Printf("key file:     %s\n", path)
			fmt.Printf("validator id: %s\n", id)
			fmt.Printf("public key:   %s\n", hex.EncodeToString(kp.PublicKeyBytes()))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wbftd %s\n", version)
		},
	}
}

// loadConfig merges the config file, environment, and flags into a node
// configuration. Precedence: flags > env (WBFT_*) > config file.
func loadConfig() (*node.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("wbftd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("WBFT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := node.DefaultConfig()
	cfg.ChainID = viper.GetString("chain-id")
	cfg.ListenAddr = viper.GetString("listen")
	cfg.APIAddr = viper.GetString("api")
	cfg.DataDir = viper.GetString("data-dir")
	cfg.Peers = viper.GetStringSlice("peers")
	cfg.SyncPeer = viper.GetString("sync-peer")
	cfg.Stake = viper.GetUint64("stake")
	cfg.StorageBytes = viper.GetUint64("storage")
	cfg.Consensus.DevMode = viper.GetBool("dev")
	cfg.MetricsEnabled = viper.GetBool("metrics")
	cfg.SlashDoubleSign = viper.GetUint64("slash-double-sign")
	cfg.SlashLiveness = viper.GetUint64("slash-liveness")

	cfg.KeyFile = viper.GetString("key-file")
	if cfg.KeyFile == "" {
		cfg.KeyFile = filepath.Join(cfg.DataDir, "node_key")
	}

	// 제네시스 검증자는 설정 파일에서만 읽음
	if err := viper.UnmarshalKey("genesis", &cfg.Genesis); err != nil {
		return nil, fmt.Errorf("failed to parse genesis validators: %w", err)
	}

	return cfg, nil
}

func runNode(cfg *node.Config) error {
	n, err := node.NewNode(cfg)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	if err := n.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
	return nil
}
