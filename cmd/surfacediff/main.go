package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"VolSurface/internal/domain/models"
	"VolSurface/internal/services/snapshot"
)

func main() {
	tol := flag.Float64("tol", snapshot.DefaultDiffTolerance, "smallest vol move reported as a change")
	optType := flag.String("type", "call", "option type used for the ATM term structure (call or put)")
	limit := flag.Int("limit", 50, "max rows printed per section, 0 for all")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <before.json> <after.json>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	if *noColor {
		color.NoColor = true
	}

	before, err := load(flag.Arg(0))
	if err != nil {
		fatal(err)
	}
	after, err := load(flag.Arg(1))
	if err != nil {
		fatal(err)
	}

	d, err := snapshot.DiffWithTolerance(before, after, *tol)
	if err != nil {
		fatal(err)
	}

	t, err := models.ParseOptionType(*optType)
	if err != nil {
		fatal(err)
	}

	w := color.Output
	printDiff(w, d, *limit)
	printTerm(w, "before", snapshot.TermStructure(before.Surface, t))
	printTerm(w, "after", snapshot.TermStructure(after.Surface, t))
}

// load accepts both the versioned envelope written by the stores and a bare snapshot
// as returned by the HTTP API.
func load(path string) (*models.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if s, err := snapshot.Decode(b); err == nil {
		return s, nil
	}
	var s models.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := snapshot.Validate(&s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}

func printDiff(w io.Writer, d *models.SnapshotDiff, limit int) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "%s %s  %s -> %s\n", bold("diff"), d.Ticker,
		d.From.UTC().Format(time.RFC3339), d.To.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "spot %s  added %d  removed %d  changed %d  unchanged %d\n\n",
		signed(d.SpotDelta, green, red), len(d.Added), len(d.Removed), len(d.Changed), d.Unchanged)

	if len(d.Added) > 0 {
		fmt.Fprintln(w, bold("added"))
		for i, p := range d.Added {
			if limit > 0 && i == limit {
				fmt.Fprintf(w, "  ... %d more\n", len(d.Added)-limit)
				break
			}
			fmt.Fprintf(w, "  %s %s %s iv %.4f\n", green("+"), expiry(p.Expiry.Unix()), contract(p.Strike, p.Type), p.ImpliedVol)
		}
		fmt.Fprintln(w)
	}
	if len(d.Removed) > 0 {
		fmt.Fprintln(w, bold("removed"))
		for i, p := range d.Removed {
			if limit > 0 && i == limit {
				fmt.Fprintf(w, "  ... %d more\n", len(d.Removed)-limit)
				break
			}
			fmt.Fprintf(w, "  %s %s %s iv %.4f\n", red("-"), expiry(p.Expiry.Unix()), contract(p.Strike, p.Type), p.ImpliedVol)
		}
		fmt.Fprintln(w)
	}
	if len(d.Changed) > 0 {
		fmt.Fprintln(w, bold("changed"))
		for i, c := range d.Changed {
			if limit > 0 && i == limit {
				fmt.Fprintf(w, "  ... %d more\n", len(d.Changed)-limit)
				break
			}
			fmt.Fprintf(w, "  %s %s %s %.4f -> %.4f (%s)\n", yellow("~"), expiry(c.Key.Expiry), contract(c.Key.Strike, c.Key.Type),
				c.Before, c.After, signed(c.Delta, green, red))
		}
		fmt.Fprintln(w)
	}
}

func printTerm(w io.Writer, label string, ts []models.TermPoint) {
	fmt.Fprintln(w, color.New(color.Bold).Sprintf("atm term structure (%s)", label))
	if len(ts) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	for _, p := range ts {
		fmt.Fprintf(w, "  %s  %6.1fd  K=%-9.2f iv %.4f\n",
			p.Expiry.UTC().Format("2006-01-02"), p.TimeToExpiry*365, p.Strike, p.ImpliedVol)
	}
	fmt.Fprintln(w)
}

func signed(v float64, up, down func(a ...interface{}) string) string {
	s := fmt.Sprintf("%+.4f", v)
	switch {
	case v > 0:
		return up(s)
	case v < 0:
		return down(s)
	}
	return s
}

func expiry(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02")
}

func contract(strike float64, t models.OptionType) string {
	return fmt.Sprintf("%9.2f %-4s", strike, t)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("surfacediff: %v", err))
	os.Exit(1)
}
