package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vaultmesh/frost-wallet/internal/node"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "co-sign a message hash with the wallet group",
	Long: `Co-sign a 32 byte message hash with the wallet group.

With --initiate this device proposes the signature and gathers acceptances;
without it the device approves the next incoming request. The aggregated
signature is printed in hex once enough signers have taken part.`,
	RunE: runSign,
}

func init() {
	f := signCmd.Flags()
	f.Bool("initiate", false, "initiate the signing instead of approving one")
	f.String("wallet", "", "wallet id to sign with")
	f.String("suite", "secp256k1", "ciphersuite the wallet was created under")
	f.String("message-hash", "", "hex encoded 32 byte message hash (initiator only)")
	f.String("blockchain", "ethereum", "target blockchain recorded with the request")
	f.String("chain-id", "1", "chain id for chains that have one")
	for _, flag := range []string{"initiate", "wallet", "suite", "message-hash", "blockchain", "chain-id"} {
		_ = viper.BindPFlag("sign."+flag, f.Lookup(flag))
	}
}

func runSign(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	walletID := viper.GetString("sign.wallet")
	if walletID == "" {
		return fmt.Errorf("a wallet id is required (--wallet)")
	}
	password, err := readPassword("wallet password: ")
	if err != nil {
		return err
	}

	n, cleanup, err := startNode(ctx, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := n.LoadWallet(ctx, viper.GetString("sign.suite"), walletID, password); err != nil {
		return err
	}

	if viper.GetBool("sign.initiate") {
		hash, err := hex.DecodeString(viper.GetString("sign.message-hash"))
		if err != nil {
			return fmt.Errorf("decode message hash: %w", err)
		}
		if len(hash) != 32 {
			return fmt.Errorf("message hash must be 32 bytes, got %d", len(hash))
		}
		signingID, err := n.InitiateSigning(ctx, hash,
			viper.GetString("sign.blockchain"), viper.GetString("sign.chain-id"))
		if err != nil {
			return err
		}
		log.Info().Str("signing", signingID).Msg("signature requested, waiting for acceptances")
	} else {
		log.Info().Msg("waiting for a signing request")
		var signingID string
		err := waitFor(ctx, n, func(st node.AppState) (bool, error) {
			if st.Signing.State == node.SigningAwaitingAcceptance && st.Signing.SigningID != "" {
				signingID = st.Signing.SigningID
				return true, nil
			}
			return false, nil
		})
		if err != nil {
			return err
		}
		if err := n.AcceptSigning(ctx, signingID); err != nil {
			return err
		}
	}

	var signature []byte
	err = waitFor(ctx, n, func(st node.AppState) (bool, error) {
		switch st.Signing.State {
		case node.SigningComplete:
			signature = st.Signing.Signature
			return true, nil
		case node.SigningFailed:
			return false, fmt.Errorf("signing failed: %s", st.Signing.Reason)
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("signature: %s\n", hex.EncodeToString(signature))
	return nil
}
