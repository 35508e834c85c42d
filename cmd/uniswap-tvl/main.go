package main

import (
	"os"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/cmd/uniswap-tvl/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
