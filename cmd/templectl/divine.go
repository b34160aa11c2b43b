package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crypto-temple/internal/llm"
	"github.com/crypto-temple/internal/service"
	"github.com/crypto-temple/internal/types"
)

var (
	divineName    string
	divineType    string
	divineAt      string
	divineFounder string
)

// divineCmd asks the oracle about a project on behalf of an address
var divineCmd = &cobra.Command{
	Use:   "divine <address>",
	Short: "Ask the oracle about a project and record the answer",
	Long: `Run one divination for the given wallet and append it to the
configured history store.

--type is one of the six project categories, or its index 1-6:
  1 一级市场 (土狗/Meme)   2 二级市场 (主流币)   3 OTC / 场外
  4 空投交互               5 质押 / DeFi          6 NFT 铸造`,
	Args: cobra.ExactArgs(1),
	RunE: runDivine,
}

func init() {
	divineCmd.Flags().StringVar(&divineName, "name", "", "project name (required)")
	divineCmd.Flags().StringVar(&divineType, "type", "1", "project category or its index")
	divineCmd.Flags().StringVar(&divineAt, "at", "", "planned trade time, YYYY-MM-DDTHH:MM UTC (default: one hour from now)")
	divineCmd.Flags().StringVar(&divineFounder, "founder", "", "background information on the founders")
	_ = divineCmd.MarkFlagRequired("name")
}

// parseCategory accepts a category label or its 1-based index
func parseCategory(s string) types.ProjectCategory {
	s = strings.TrimSpace(s)
	if len(s) == 1 && s[0] >= '1' && int(s[0]-'1') < len(types.ProjectCategories) {
		return types.ProjectCategories[s[0]-'1']
	}
	return types.ProjectCategory(s)
}

func runDivine(cmd *cobra.Command, args []string) error {
	at := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	if divineAt != "" {
		t, err := time.ParseInLocation("2006-01-02T15:04", divineAt, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		at = t
	}
	project := types.ProjectInfo{
		Name:            divineName,
		Type:            parseCategory(divineType),
		TransactionTime: at,
		FounderInfo:     divineFounder,
	}
	if err := service.ValidateProject(project, time.Now()); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	wallets, closeChain, err := newWalletService(cfg)
	if err != nil {
		return err
	}
	defer closeChain()

	history, closeHistory, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer closeHistory()

	oracle, err := llm.New(cmd.Context(), cfg.LLM)
	if err != nil {
		return err
	}

	divinations := service.NewDivinationService(wallets, oracle, history, service.WithDivinationDelay(0))
	record, err := divinations.Divine(cmd.Context(), args[0], project)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), record)
	}
	printRecord(cmd, *record)
	return nil
}

func printRecord(cmd *cobra.Command, r types.HistoryRecord) {
	w := cmd.OutOrStdout()
	res := r.Result
	fmt.Fprintf(w, "[%s] %s (%s) @ %s\n", r.ID, r.Project.Name, r.Project.Type, r.Project.TransactionTime.Format(service.TransactionTimeLayout))
	fmt.Fprintf(w, "  卦象: %s  胜率: %d%%\n", res.HexagramName, res.Probability)
	fmt.Fprintf(w, "  断语: %s\n", res.Summary)
	if res.Advice != "" {
		fmt.Fprintf(w, "  建议: %s\n", res.Advice)
	}
	if r.Feedback != "" {
		fmt.Fprintf(w, "  反馈: %s\n", r.Feedback)
	}
}
