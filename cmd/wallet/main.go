package main

import (
	"github.com/cosmochain/cosmochain/cmd/wallet/cmd"
)

func main() {
	cmd.Execute()
}
