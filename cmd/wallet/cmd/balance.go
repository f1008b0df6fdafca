package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cosmochain/cosmochain/internal/crypto"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the wallet's current balance",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadPrivateKey(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		address := crypto.Address(privateKey.PublicKey)

		resp, err := http.Get(fmt.Sprintf("%s/balance/%s", nodeURL, address))
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		var body struct {
			Balance uint64 `json:"balance"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			log.Fatal(err)
		}

		fmt.Println(address, body.Balance)
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}
