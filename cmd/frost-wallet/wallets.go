package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var walletsCmd = &cobra.Command{
	Use:   "wallets",
	Short: "list stored wallets",
	Long: `List the wallets stored in the data directory.

Listing reads only the unencrypted metadata; no password is needed.`,
	RunE: runWallets,
}

func runWallets(cmd *cobra.Command, args []string) error {
	store, err := openKeystore(newLogger())
	if err != nil {
		return err
	}
	infos, err := store.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no wallets")
		return nil
	}
	for _, info := range infos {
		m := info.Metadata
		fmt.Printf("%s  %s  %d-of-%d  created %s\n",
			info.WalletID, info.CiphersuiteTag,
			m.Threshold, m.TotalParticipants,
			m.CreatedAt.Format("2006-01-02 15:04:05"))
		for _, bc := range m.Blockchains {
			fmt.Printf("  %-10s %s\n", bc.Blockchain, bc.Address)
		}
	}
	return nil
}
