package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/docanvil/docanvil/cmd/docanvil/ui"
	"github.com/docanvil/docanvil/internal/runstore"
)

var (
	historyLimit     int
	historyOffset    int
	historyJSON      bool
	historyOlderThan time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past conversion runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversion runs, newest first",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full summary of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete run records older than a cutoff",
	RunE:  runHistoryPurge,
}

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to list")
	historyListCmd.Flags().IntVar(&historyOffset, "offset", 0, "runs to skip")
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "print the raw summary JSON")
	historyPurgeCmd.Flags().DurationVar(&historyOlderThan, "older-than", 30*24*time.Hour, "age cutoff for deletion")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPurgeCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ui.Init(noColor, verbose)

	ctx := context.Background()
	store, closeStore, err := openRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	runs, err := store.ListRuns(ctx, historyLimit, historyOffset)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No runs recorded")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, sum := range runs {
		rows = append(rows, []string{
			sum.RunID,
			filepath.Base(sum.Source),
			string(sum.Status),
			fmt.Sprintf("%d", sum.Pages),
			fmt.Sprintf("%d", sum.Tables),
			ui.FormatDuration(sum.Duration()),
			sum.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	ui.Table([]string{"Run ID", "Source", "Status", "Pages", "Tables", "Duration", "Started"}, rows)

	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ui.Init(noColor, verbose)

	ctx := context.Background()
	store, closeStore, err := openRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sum, err := store.GetRun(ctx, args[0])
	if errors.Is(err, runstore.ErrNotFound) {
		return fmt.Errorf("run %s not found", args[0])
	}
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	ui.Section("Run " + sum.RunID)
	ui.KeyValue("Source", sum.Source)
	ui.KeyValue("Status", string(sum.Status))
	ui.KeyValue("Pages", fmt.Sprintf("%d", sum.Pages))
	ui.KeyValue("Tables", fmt.Sprintf("%d", sum.Tables))
	ui.KeyValue("Figures", fmt.Sprintf("%d", sum.Figures))
	ui.KeyValue("Characters", fmt.Sprintf("%d", sum.Characters))
	ui.KeyValue("Engine", fmt.Sprintf("%s (%ss engine time)", sum.EngineName, fmt.Sprintf("%.1f", sum.EngineSeconds)))
	ui.KeyValue("Device", sum.Device)
	ui.KeyValue("Requested", strings.Join(sum.RequestedCapabilities, ", "))
	ui.KeyValue("Executed", strings.Join(sum.ExecutedCapabilities, ", "))
	ui.KeyValue("Started", sum.StartedAt.Local().Format(time.RFC3339))
	ui.KeyValue("Duration", ui.FormatDuration(sum.Duration()))
	ui.KeyValue("Output", sum.OutputDir)
	if sum.Error != "" {
		ui.KeyValue("Error", sum.Error)
	}

	for _, n := range sum.Notices {
		ui.Warning("%s downgraded from %s to %s: %s", n.Aspect, n.From, n.To, n.Reason)
	}
	if len(sum.DegradedPages) > 0 {
		pages := make([]string, len(sum.DegradedPages))
		for i, p := range sum.DegradedPages {
			pages[i] = fmt.Sprintf("%d", p)
		}
		ui.Warning("Degraded pages: %s", strings.Join(pages, ", "))
	}

	if len(sum.Artifacts) > 0 {
		ui.Newline()
		rows := make([][]string, 0, len(sum.Artifacts))
		for _, a := range sum.Artifacts {
			state := "written"
			detail := ui.FormatBytes(a.Bytes)
			if a.Error != "" {
				state = "failed"
				detail = a.Error
			}
			rows = append(rows, []string{a.Name, state, detail})
		}
		ui.Table([]string{"Artifact", "State", "Detail"}, rows)
	}

	return nil
}

func runHistoryPurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ui.Init(noColor, verbose)

	ctx := context.Background()
	store, closeStore, err := openRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	cutoff := time.Now().Add(-historyOlderThan)
	purged, err := store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	ui.Success("Purged %d run(s) older than %s", purged, historyOlderThan)
	return nil
}
