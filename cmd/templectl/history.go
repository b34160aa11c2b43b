package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crypto-temple/internal/types"
)

// historyCmd lists the divination history
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List divination records",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

// historyFeedbackCmd stores a verdict on one record
var historyFeedbackCmd = &cobra.Command{
	Use:   "feedback <id> <accurate|inaccurate>",
	Short: "Store the user's verdict on a record",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistoryFeedback,
}

func init() {
	historyCmd.AddCommand(historyFeedbackCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	history, closeHistory, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer closeHistory()

	records, err := history.List(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		if records == nil {
			records = []types.HistoryRecord{}
		}
		return printJSON(cmd.OutOrStdout(), records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No records")
		return nil
	}
	for _, r := range records {
		printRecord(cmd, r)
	}
	return nil
}

func runHistoryFeedback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	history, closeHistory, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer closeHistory()

	record, err := history.Feedback(cmd.Context(), args[0], types.Feedback(args[1]))
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), record)
	}
	printRecord(cmd, *record)
	return nil
}
