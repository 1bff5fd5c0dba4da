package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandroneterpone/ye-meme-trader/config"
	"github.com/sandroneterpone/ye-meme-trader/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the trade journal",
	Long: `Query and display close events from the SQLite journal.

Subcommands:
  position - Show a single position by ID
  today    - List closes from today with a summary
  day      - List closes from a specific day with a summary

Examples:
  trader history position 01J8ZK...
  trader history today
  trader history day 2026-08-29`,
}

var historyPositionCmd = &cobra.Command{
	Use:   "position <position-id>",
	Short: "Show a single position",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryPosition,
}

var historyTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List closes from today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printDay(time.Now().In(time.Local).Format("2006-01-02"))
	},
}

var historyDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List closes from a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printDay(args[0])
	},
}

var historyDBPath string

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPositionCmd)
	historyCmd.AddCommand(historyTodayCmd)
	historyCmd.AddCommand(historyDayCmd)

	// Default to the same DB path `trader run` writes to.
	historyCmd.PersistentFlags().StringVarP(&historyDBPath, "db", "d", config.Default().Journal.DBPath, "path to SQLite journal DB")
}

func runHistoryPosition(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(historyDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	rec, err := j.GetPosition(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Position %s\n", rec.PositionID)
	fmt.Printf("  Token:       %s (%s)\n", rec.Token, rec.Side)
	fmt.Printf("  Status:      %s\n", rec.Status)
	fmt.Printf("  Amount:      %.4f\n", rec.Amount)
	fmt.Printf("  Entry price: %.9f\n", rec.EntryPrice)
	fmt.Printf("  Opened:      %s\n", rec.OpenedAt.Format(time.RFC3339))
	if !rec.ClosedAt.IsZero() {
		fmt.Printf("  Closed:      %s (%s)\n", rec.ClosedAt.Format(time.RFC3339), rec.CloseReason)
	}
	fmt.Printf("  Realized:    %+.4f\n", rec.RealizedPnL)
	return nil
}

func printDay(day string) error {
	j, err := journal.NewSQLite(historyDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	closes, err := j.ListClosesBetween(start, end)
	if err != nil {
		return fmt.Errorf("query closes: %w", err)
	}

	for _, c := range closes {
		fmt.Printf("%s  %-12s %5.0f%%  %+.4f  [%s]  %s\n",
			c.Time.In(time.Local).Format("15:04:05"),
			c.Token, c.Fraction*100, c.PnL, c.Reason, c.PositionID)
	}

	s, err := j.Summarize(start, end)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	fmt.Printf("\n%s: %d close(s), %d win / %d loss, net %+.4f (gross +%.4f / -%.4f)\n",
		day, s.Closes, s.Wins, s.Losses, s.NetPnL, s.GrossProfit, s.GrossLoss)
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.Add(24 * time.Hour)
	return start, end, nil
}
