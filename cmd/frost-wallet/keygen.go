package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vaultmesh/frost-wallet/internal/mesh"
	"github.com/vaultmesh/frost-wallet/internal/node"
	"github.com/vaultmesh/frost-wallet/internal/session"
	"github.com/vaultmesh/frost-wallet/pkg/party"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "run a distributed key generation ceremony",
	Long: `Run a distributed key generation ceremony with the named participants.

With --propose this device invites the others; without it the device waits
for an invitation and accepts it. Every participant ends up with an encrypted
share of the same group key in its data directory.`,
	RunE: runKeygen,
}

func init() {
	f := keygenCmd.Flags()
	f.Bool("propose", false, "propose the ceremony instead of waiting for one")
	f.Int("threshold", 2, "minimum number of signers")
	f.StringSlice("participants", nil, "device names taking part (proposer only)")
	f.String("suite", "secp256k1", "ciphersuite: secp256k1 or ed25519")
	for _, flag := range []string{"propose", "threshold", "participants", "suite"} {
		_ = viper.BindPFlag("keygen."+flag, f.Lookup(flag))
	}
}

func runKeygen(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	password, err := readPassword("wallet password: ")
	if err != nil {
		return err
	}

	n, cleanup, err := startNode(ctx, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if viper.GetBool("keygen.propose") {
		var ids []party.ID
		for _, name := range viper.GetStringSlice("keygen.participants") {
			ids = append(ids, party.ID(name))
		}
		sessionID, err := n.ProposeSession(ctx, session.KindDKG,
			viper.GetInt("keygen.threshold"), ids, viper.GetString("keygen.suite"))
		if err != nil {
			return err
		}
		log.Info().Str("session", sessionID).Msg("ceremony proposed, waiting for acceptances")
	} else {
		log.Info().Msg("waiting for a ceremony invitation")
		var sessionID string
		err := waitFor(ctx, n, func(st node.AppState) (bool, error) {
			if st.Session != nil {
				sessionID = st.Session.ID
				return true, nil
			}
			return false, nil
		})
		if err != nil {
			return err
		}
		if err := n.AcceptSession(ctx, sessionID); err != nil {
			return err
		}
	}

	if err := waitFor(ctx, n, func(st node.AppState) (bool, error) {
		return st.Mesh.State == mesh.Ready, nil
	}); err != nil {
		return err
	}
	if err := n.StartDKG(ctx, password); err != nil {
		return err
	}

	var walletID string
	err = waitFor(ctx, n, func(st node.AppState) (bool, error) {
		switch st.Dkg.State {
		case node.DkgComplete:
			walletID = st.Dkg.WalletID
			return true, nil
		case node.DkgFailed:
			return false, fmt.Errorf("key generation failed: %s", st.Dkg.Reason)
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("wallet %s created\n", walletID)
	infos, err := n.Wallets(ctx)
	if err != nil {
		return nil
	}
	for _, info := range infos {
		if info.WalletID != walletID {
			continue
		}
		for _, bc := range info.Metadata.Blockchains {
			fmt.Printf("  %-10s %s\n", bc.Blockchain, bc.Address)
		}
	}
	return nil
}
