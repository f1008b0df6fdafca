package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/cosmochain/cosmochain/internal/crypto"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new key pair",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			log.Fatal(err)
		}

		path := getPrivateKeyPath()
		if err := crypto.SavePrivateKey(path, privateKey); err != nil {
			log.Fatal(err)
		}

		fmt.Println("wrote", path)
		fmt.Println(crypto.Address(privateKey.PublicKey))
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
