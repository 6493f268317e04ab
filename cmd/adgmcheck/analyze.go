package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dgallion1/adgmcheck/internal/corpus"
	"github.com/dgallion1/adgmcheck/internal/finding"
	"github.com/dgallion1/adgmcheck/internal/pipeline"
)

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file|dir>...",
		Short: "Analyze a batch of documents and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := cliLogger()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			inputs, err := readInputs(args)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, log, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.engine.Run(ctx, inputs)
			if jsonOutput {
				printJSON(res)
			} else {
				printResult(os.Stdout, res)
			}
			if runErr != nil {
				return fmt.Errorf("run failed: %w", runErr)
			}
			return nil
		},
	}
}

// readInputs loads each named file. Directories contribute every supported
// document beneath them.
func readInputs(paths []string) ([]pipeline.Input, error) {
	var inputs []pipeline.Input
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			files, err := corpus.Collect(p)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				inputs = append(inputs, pipeline.Input{Name: filepath.Base(f.Name), Data: f.Data})
			}
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		inputs = append(inputs, pipeline.Input{Name: filepath.Base(p), Data: data})
	}
	return inputs, nil
}

func severityColor(s finding.Severity) func(format string, a ...any) string {
	switch s {
	case finding.Critical:
		return color.New(color.FgRed, color.Bold).Sprintf
	case finding.High:
		return color.RedString
	case finding.Medium:
		return color.YellowString
	default:
		return color.CyanString
	}
}

func scoreColor(score float64) func(format string, a ...any) string {
	switch {
	case score >= 80:
		return color.GreenString
	case score >= 60:
		return color.YellowString
	default:
		return color.RedString
	}
}

func printResult(w io.Writer, res pipeline.Result) {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(w, "%s %s (%s)\n", bold("Run"), res.RunID, res.Status)
	if res.Status == pipeline.StatusFailed {
		fmt.Fprintf(w, "%s %s\n", color.RedString("error:"), res.Error)
		return
	}
	if res.IndexVersion != "" {
		fmt.Fprintf(w, "Corpus index %s\n", res.IndexVersion)
	}

	for _, doc := range res.Documents {
		fmt.Fprintf(w, "\n%s  %s\n", bold(doc.ID), color.BlueString(doc.Classification.Label))
		fmt.Fprintf(w, "  score %s  advisory %s", scoreColor(float64(doc.Score))("%d", doc.Score), doc.Advisory.Status)
		if doc.Advisory.Reason != "" {
			fmt.Fprintf(w, " (%s)", doc.Advisory.Reason)
		}
		fmt.Fprintln(w)
		for _, iss := range doc.Issues {
			loc := iss.Location.Section
			if iss.Location.Clause != "" {
				loc += " / " + iss.Location.Clause
			}
			fmt.Fprintf(w, "  %s %s: %s\n", severityColor(iss.Severity)("%-8s", iss.Severity), loc, iss.Description)
			if iss.Citation != "" {
				fmt.Fprintf(w, "           cite: %s\n", iss.Citation)
			}
		}
	}
	for _, ex := range res.Exclusions {
		msg := ex.Reason
		if ex.Error != "" {
			msg += ": " + ex.Error
		}
		fmt.Fprintf(w, "\n%s %s %s\n", color.YellowString("excluded"), ex.ID, msg)
	}

	cl := res.Checklist
	fmt.Fprintf(w, "\n%s %s (%.0f%% complete)\n", bold("Process"), cl.InferredProcess, cl.Completeness)
	if len(cl.MissingDocuments) > 0 {
		fmt.Fprintf(w, "  missing: %s\n", color.RedString(strings.Join(cl.MissingDocuments, ", ")))
	}
	fmt.Fprintf(w, "%s %s\n", bold("Overall score"), scoreColor(res.OverallScore)("%.1f", res.OverallScore))

	if len(res.Recommendations) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold("Recommendations"))
		for _, r := range res.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
}
