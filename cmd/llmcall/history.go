package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/aschepis/backscratcher/llmcore/calllog"
	"github.com/spf13/cobra"
)

var (
	historyClient string
	historyStatus string
	historyLimit  uint64
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded calls, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyClient, "client", "c", "", "only show calls made by this client")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only show calls with this status (success, failure, error)")
	historyCmd.Flags().Uint64VarP(&historyLimit, "limit", "n", 20, "maximum number of calls to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	switch calllog.Status(historyStatus) {
	case "", calllog.StatusSuccess, calllog.StatusFailure, calllog.StatusError:
	default:
		return fmt.Errorf("unknown status %q", historyStatus)
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // No remedy for close errors on exit

	if a.store == nil {
		return fmt.Errorf("call log is disabled")
	}

	entries, err := a.store.List(cmd.Context(), calllog.Filter{
		Client: historyClient,
		Status: calllog.Status(historyStatus),
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tCLIENT\tOPERATION\tSTATUS\tLATENCY\tTOKENS\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime),
			e.Client,
			e.Operation,
			e.Status,
			e.Latency.Round(time.Millisecond),
			tokens(e),
			detail(e),
		)
	}
	return w.Flush()
}

func tokens(e calllog.Entry) string {
	if e.TotalTokens == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *e.TotalTokens)
}

func detail(e calllog.Entry) string {
	var s string
	switch e.Status {
	case calllog.StatusSuccess:
		s = e.Content
		if !e.IsComplete {
			s = fmt.Sprintf("[%s] %s", e.FinishReason, s)
		}
	default:
		s = e.ErrorMessage
		if e.ErrorCode != "" {
			s = fmt.Sprintf("[%s] %s", e.ErrorCode, s)
		}
	}
	return truncateLine(s, 60)
}

// truncateLine keeps the first line of s, cut to at most n runes.
func truncateLine(s string, n int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i] + "…"
			break
		}
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
