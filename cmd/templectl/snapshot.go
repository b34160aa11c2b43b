package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crypto-temple/internal/types"
)

// snapshotCmd fetches the on-chain profile of a wallet
var snapshotCmd = &cobra.Command{
	Use:   "snapshot <address>",
	Short: "Fetch the on-chain profile of a wallet",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	wallets, closeChain, err := newWalletService(cfg)
	if err != nil {
		return err
	}
	defer closeChain()

	snapshot, err := wallets.Snapshot(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), snapshot)
	}
	printSnapshot(cmd, snapshot)
	return nil
}

func printSnapshot(cmd *cobra.Command, s *types.WalletSnapshot) {
	w := cmd.OutOrStdout()
	e := s.ElementalBase
	fmt.Fprintf(w, "地址:   %s\n", s.Address)
	fmt.Fprintf(w, "降世:   %s (%s)\n", s.FirstTxDate, s.CyberBazi)
	fmt.Fprintf(w, "道行:   %s\n", s.WalletAge)
	fmt.Fprintf(w, "功德:   %s\n", s.Balance)
	fmt.Fprintf(w, "业力:   %d 次交互\n", s.TransactionCount)
	fmt.Fprintf(w, "盈亏:   %s\n", s.PnLStatus)
	fmt.Fprintf(w, "标签:   %s\n", strings.Join(s.Tags, ", "))
	fmt.Fprintf(w, "五行:   金%d%% 木%d%% 水%d%% 火%d%% 土%d%%\n", e.Gold, e.Wood, e.Water, e.Fire, e.Earth)
	if s.Degraded {
		fmt.Fprintln(w, "(chain unreachable, degraded snapshot)")
	}
}
