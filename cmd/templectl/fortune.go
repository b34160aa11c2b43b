package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crypto-temple/internal/fortune"
	"github.com/crypto-temple/internal/types"
)

var fortuneDate string

// fortuneCmd derives the cosmetic profile of an address
var fortuneCmd = &cobra.Command{
	Use:   "fortune <address>",
	Short: "Derive the five elements and cyber bazi of an address",
	Long: `Derive the five-element distribution of an address. With --date the
cyber bazi and wallet age of that first-transaction date are printed too.
Nothing is read from the chain.`,
	Args: cobra.ExactArgs(1),
	RunE: runFortune,
}

func init() {
	fortuneCmd.Flags().StringVar(&fortuneDate, "date", "", "first transaction date, YYYY-MM-DD")
}

type fortuneOutput struct {
	Address   string             `json:"address"`
	Elements  types.FiveElements `json:"elements"`
	CyberBazi string             `json:"cyberBazi"`
	WalletAge string             `json:"walletAge"`
}

func runFortune(cmd *cobra.Command, args []string) error {
	out := fortuneOutput{
		Address:   args[0],
		Elements:  fortune.Elements(args[0]),
		CyberBazi: fortune.CyberBazi(fortuneDate),
		WalletAge: fortune.WalletAge(fortuneDate, time.Now()),
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	e := out.Elements
	fmt.Fprintf(w, "地址: %s\n", out.Address)
	fmt.Fprintf(w, "五行: 金%d%% 木%d%% 水%d%% 火%d%% 土%d%%\n", e.Gold, e.Wood, e.Water, e.Fire, e.Earth)
	fmt.Fprintf(w, "八字: %s\n", out.CyberBazi)
	fmt.Fprintf(w, "道行: %s\n", out.WalletAge)
	return nil
}
