package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dgallion1/adgmcheck/internal/corpus"
	"github.com/dgallion1/adgmcheck/internal/retrieval"
)

func indexCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "index",
		Short: "Build and inspect the regulatory corpus index",
	}

	var (
		output    string
		toPG      bool
		idxVer    string
		batchSize int
	)
	buildCmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Chunk and embed a directory of regulations into an index snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if output == "" && !toPG {
				return fmt.Errorf("nothing to write: pass --output or --pg")
			}
			if toPG && cfg.DatabaseURL == "" {
				return fmt.Errorf("--pg requires DATABASE_URL")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			files, err := corpus.Collect(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no supported documents under %s", args[0])
			}
			emb, err := newEmbedder(cfg)
			if err != nil {
				return err
			}

			var bar *progressbar.ProgressBar
			snap, skipped, err := corpus.Build(ctx, files, emb, corpus.Options{
				Version:   idxVer,
				BatchSize: batchSize,
				Progress: func(done, total int) {
					if jsonOutput {
						return
					}
					if bar == nil {
						bar = getProgressBar(total, "Embedding passages")
					}
					bar.Set(done)
				},
			})
			if bar != nil {
				bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				return err
			}

			if output != "" {
				if err := retrieval.WriteSnapshotFile(output, snap); err != nil {
					return err
				}
			}
			if toPG {
				pg, err := retrieval.OpenPG(ctx, retrieval.PGConfig{
					ConnString: cfg.DatabaseURL,
					TableName:  cfg.CorpusTable,
					VectorDim:  snap.Dim,
					Version:    snap.Version,
					Model:      snap.Model,
				})
				if err != nil {
					return err
				}
				defer pg.Close()
				if err := pg.Store(ctx, snap); err != nil {
					return err
				}
			}

			if jsonOutput {
				printJSON(map[string]any{
					"index_version": snap.Version,
					"model":         snap.Model,
					"dim":           snap.Dim,
					"documents":     len(files) - len(skipped),
					"passages":      len(snap.Entries),
					"skipped":       skipped,
					"output":        output,
				})
				return nil
			}
			fmt.Printf("%s index %s: %d passages from %d documents (%s, dim %d)\n",
				color.GreenString("built"), color.CyanString(snap.Version),
				len(snap.Entries), len(files)-len(skipped), snap.Model, snap.Dim)
			for _, name := range skipped {
				fmt.Printf("  %s %s\n", color.YellowString("skipped"), name)
			}
			if output != "" {
				fmt.Printf("  wrote %s\n", output)
			}
			return nil
		},
	}
	buildCmd.Flags().StringVarP(&output, "output", "o", "", "Snapshot file to write")
	buildCmd.Flags().BoolVar(&toPG, "pg", false, "Also store passages in the pgvector table at DATABASE_URL")
	buildCmd.Flags().StringVar(&idxVer, "version", "", "Index version label (default: UTC timestamp)")
	buildCmd.Flags().IntVar(&batchSize, "batch", 32, "Passages per embedding call")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show the configured index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			idx, err := retrieval.Open(cmd.Context(), indexSource(cfg))
			if err != nil {
				return err
			}
			if c, ok := idx.(interface{ Close() }); ok {
				defer c.Close()
			}
			info := map[string]any{"index_version": idx.Version(), "model": idx.Model()}
			if m, ok := idx.(*retrieval.MemoryIndex); ok {
				info["passages"] = m.Len()
			}
			if jsonOutput {
				printJSON(info)
				return nil
			}
			fmt.Printf("index %s  model %s\n", color.CyanString(idx.Version()), idx.Model())
			if n, ok := info["passages"]; ok {
				fmt.Printf("  %d passages\n", n)
			}
			return nil
		},
	}

	parent.AddCommand(buildCmd, infoCmd)
	return parent
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("passages"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)
}
