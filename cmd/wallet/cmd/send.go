package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cosmochain/cosmochain/internal/chain"
	"github.com/cosmochain/cosmochain/internal/crypto"
)

var (
	toAddress string
	amount    uint64
	fee       uint64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and submit a transfer",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadPrivateKey(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		from := crypto.Address(privateKey.PublicKey)

		tx, err := chain.NewTransfer(from, toAddress, amount, fee, time.Now().UnixMilli())
		if err != nil {
			log.Fatal(err)
		}

		signed, err := tx.Sign(privateKey)
		if err != nil {
			log.Fatal(err)
		}

		data, err := json.Marshal(signed)
		if err != nil {
			log.Fatal(err)
		}

		resp, err := http.Post(fmt.Sprintf("%s/tx", nodeURL), "application/json", bytes.NewReader(data))
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		fmt.Println(resp.Status, string(body))
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&toAddress, "to", "t", "", "Recipient address.")
	sendCmd.Flags().Uint64VarP(&amount, "amount", "m", 0, "Amount to send.")
	sendCmd.Flags().Uint64VarP(&fee, "fee", "f", 0, "Fee offered to the miner.")
}
