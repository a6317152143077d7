package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/analysis"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/report"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/storage"
)

var (
	cPrompt   = color.New(color.FgCyan, color.Bold)
	cMuted    = color.New(color.Faint)
	cError    = color.New(color.FgRed, color.Bold)
	cWarn     = color.New(color.FgYellow)
	cHeader   = color.New(color.FgCyan, color.Bold)
	cCmd      = color.New(color.FgYellow, color.Bold)
	cGreeting = color.New(color.Bold)
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive REPL session",
	Long:  "Open a persistent session against the database. Type 'help' for available commands.",
	Args:  cobra.NoArgs,
	RunE:  runShell,
}

func runShell(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	cGreeting.Println("crstats shell")
	cMuted.Println("type 'help' or 'exit'")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			return nil
		}
		cPrompt.Print("crstats")
		cMuted.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		tokens := strings.Fields(line)
		name, args := tokens[0], tokens[1:]

		switch name {
		case "exit", "quit":
			return nil
		case "help":
			shellHelp()
		case "list":
			shellList(ctx, st)
		case "summary":
			shellSummary(ctx, st)
		case "show":
			if len(args) == 0 {
				cError.Fprintln(os.Stderr, "usage: show <run-prefix> [segment]")
				continue
			}
			segName := ""
			if len(args) > 1 {
				segName = args[1]
			}
			shellShow(ctx, st, args[0], segName)
		case "compare":
			if len(args) < 3 {
				cError.Fprintln(os.Stderr, "usage: compare <run-prefix> <segment-a> <segment-b> [min-plays]")
				continue
			}
			minPlays := cfg.Analysis.MinPlays
			if len(args) > 3 {
				n, err := strconv.Atoi(args[3])
				if err != nil {
					cError.Fprintf(os.Stderr, "bad min-plays %q\n", args[3])
					continue
				}
				minPlays = n
			}
			shellCompare(ctx, st, args[0], args[1], args[2], minPlays)
		case "trend":
			if len(args) == 0 {
				cError.Fprintln(os.Stderr, "usage: trend <card name>")
				continue
			}
			shellTrend(ctx, st, strings.Join(args, " "))
		default:
			cWarn.Fprintf(os.Stderr, "unknown command %q, type 'help'\n", name)
		}
	}
	return nil
}

func shellHelp() {
	fmt.Println()
	type entry struct{ cmd, desc string }
	rows := []entry{
		{"list", "list all stored runs"},
		{"summary", "database overview and most played cards"},
		{"show <run-prefix> [segment]", "per-card table of a run"},
		{"compare <run> <seg-a> <seg-b> [min]", "win-rate change between two segments"},
		{"trend <card name>", "one card across every stored run"},
		{"help", "show this message"},
		{"exit / quit", "close the session"},
	}
	for _, r := range rows {
		fmt.Print("  ")
		cCmd.Printf("%-38s", r.cmd)
		fmt.Println(r.desc)
	}
	fmt.Println()
}

func shellList(ctx context.Context, st storage.Store) {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if len(runs) == 0 {
		cMuted.Println("No runs stored yet.")
		return
	}
	cHeader.Fprintf(os.Stdout, "%d runs\n", len(runs))
	report.PrintRunList(os.Stdout, runs)
}

func shellSummary(ctx context.Context, st storage.Store) {
	ov, err := st.Overview(ctx)
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	totals, err := st.CardTotals(ctx, cfg.Analysis.Top)
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	report.PrintOverview(os.Stdout, ov, totals)
}

func shellShow(ctx context.Context, st storage.Store, prefix, segName string) {
	run, res, err := loadRun(ctx, st, prefix)
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	segs, err := pickSegments(res, segName)
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	report.PrintRunSummary(os.Stdout, *run)
	for _, seg := range segs {
		report.PrintCardTable(os.Stdout, seg, 0)
	}
}

func shellCompare(ctx context.Context, st storage.Store, prefix, segA, segB string, minPlays int) {
	_, res, err := loadRun(ctx, st, prefix)
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	a, okA := res.Segment(segA)
	b, okB := res.Segment(segB)
	if !okA || !okB {
		cError.Fprintf(os.Stderr, "run has segments %v\n", res.Labels())
		return
	}
	deltas, err := analysis.Compare(a, b, minPlays)
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	report.PrintCompareTable(os.Stdout, segA, segB, minPlays, deltas)
}

func shellTrend(ctx context.Context, st storage.Store, card string) {
	points, err := st.CardHistory(ctx, card)
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if len(points) == 0 {
		cMuted.Printf("no runs contain %q\n", card)
		return
	}
	report.PrintCardHistory(os.Stdout, card, points)
}
