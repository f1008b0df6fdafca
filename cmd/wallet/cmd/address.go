package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/cosmochain/cosmochain/internal/crypto"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the address for the wallet's key",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadPrivateKey(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		fmt.Println(crypto.Address(privateKey.PublicKey))
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
