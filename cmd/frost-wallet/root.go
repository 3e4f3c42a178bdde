package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vaultmesh/frost-wallet/internal/keystore"
	"github.com/vaultmesh/frost-wallet/internal/node"
	"github.com/vaultmesh/frost-wallet/internal/transport"
	"github.com/vaultmesh/frost-wallet/pkg/party"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "frost-wallet",
	Short:         "threshold signature wallet device",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $HOME/.frost-wallet.yaml)")
	pf.String("device", "", "stable device name, unique within the group")
	pf.String("data-dir", defaultDataDir(), "directory for encrypted wallet shares")
	pf.String("signaling-url", "ws://localhost:8080/ws", "websocket signaling server")
	pf.Bool("verbose", false, "debug logging")

	for _, flag := range []string{"device", "data-dir", "signaling-url", "verbose"} {
		_ = viper.BindPFlag(flag, pf.Lookup(flag))
	}

	rootCmd.AddCommand(keygenCmd, signCmd, walletsCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".frost-wallet")
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("FROST_WALLET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".frost-wallet"
	}
	return home + "/.frost-wallet"
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()
}

func openKeystore(log zerolog.Logger) (*keystore.Keystore, error) {
	return keystore.New(afero.NewOsFs(), viper.GetString("data-dir"),
		viper.GetString("device"), clock.New(), log)
}

// startNode dials the signaling server and spins up the command loop.
func startNode(ctx context.Context, log zerolog.Logger) (*node.Node, func(), error) {
	self := party.ID(viper.GetString("device"))
	if self == "" {
		return nil, nil, fmt.Errorf("a device name is required (--device or FROST_WALLET_DEVICE)")
	}
	store, err := openKeystore(log)
	if err != nil {
		return nil, nil, err
	}
	tr, err := transport.DialSignaling(ctx, viper.GetString("signaling-url"), self, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect signaling server: %w", err)
	}
	n, err := node.New(node.Config{
		Self:      self,
		Transport: tr,
		Keystore:  store,
		Logger:    log,
		Observer: func(st node.AppState) {
			if st.Notification != "" {
				log.Info().Msg(st.Notification)
			}
		},
	})
	if err != nil {
		_ = tr.Close()
		return nil, nil, err
	}

	loopCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(loopCtx)
	}()
	cleanup := func() {
		stop()
		_ = tr.Close()
		<-done
	}
	return n, cleanup, nil
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// readPassword takes the wallet password from FROST_WALLET_PASSWORD or stdin.
func readPassword(prompt string) ([]byte, error) {
	if pw := viper.GetString("password"); pw != "" {
		return []byte(pw), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// waitFor polls the node state until cond holds or the context ends.
func waitFor(ctx context.Context, n *node.Node, cond func(node.AppState) (bool, error)) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := n.State(ctx)
		if err != nil {
			return err
		}
		ok, err := cond(st)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
