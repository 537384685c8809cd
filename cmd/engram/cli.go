package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/engram/pkg/memory"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "engram",
		Short: "Long-term memory engine for conversational agents",
		Long: strings.TrimSpace(`engram learns durable facts, preferences, and routines from
interactions and serves a compact, relevant memory block back into prompts.

Use CLI commands to feed interactions, query assembled context, run
lifecycle maintenance, inspect stats, and export or purge records.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newLearnCommand())
	root.AddCommand(newContextCommand())
	root.AddCommand(newLifecycleCommand())
	root.AddCommand(newStatsCommand())
	root.AddCommand(newExportCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newLearnCommand() *cobra.Command {
	var (
		owner       string
		message     string
		sessionFile string
	)

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Extract and persist memories from one interaction",
		Long:  "Run the learning pipeline over an interaction text, optionally with session history and tool calls from a JSON file.",
		Example: strings.Join([]string{
			"  engram learn --owner user-1 --message \"I always review my calendar at 8am\"",
			"  engram learn --owner user-1 --message \"deploy failed again\" --session session.json",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(owner) == "" {
				return fmt.Errorf("--owner is required")
			}
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("--message is required")
			}
			var session memory.SessionData
			if sessionFile != "" {
				data, err := os.ReadFile(sessionFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &session); err != nil {
					return fmt.Errorf("parse session file: %w", err)
				}
			}
			return withEngine(func(ctx context.Context, e *memory.Engine) error {
				created, err := e.LearnFromInteraction(ctx, owner, message, session)
				if err != nil {
					return err
				}
				if len(created) == 0 {
					fmt.Println("No memories created.")
					return nil
				}
				for _, rec := range created {
					fmt.Printf("%s  [%s] imp=%d conf=%.2f  %s\n", rec.ID, rec.Type, rec.Importance, rec.Confidence, rec.Content)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner id the memories belong to")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Interaction text to learn from")
	cmd.Flags().StringVarP(&sessionFile, "session", "s", "", "Path to a JSON file with session history and tool calls")

	return cmd
}

func newContextCommand() *cobra.Command {
	var (
		owner  string
		query  string
		limit  int
		detail bool
	)

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Assemble a prompt-ready memory block for a query",
		Example: strings.Join([]string{
			"  engram context --owner user-1 --query \"what's on my schedule?\"",
			"  engram context --owner user-1 --query \"deploy checklist\" --detail",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(owner) == "" {
				return fmt.Errorf("--owner is required")
			}
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("--query is required")
			}
			return withEngine(func(ctx context.Context, e *memory.Engine) error {
				result, err := e.RetrieveContext(ctx, owner, query, limit)
				if err != nil {
					return err
				}
				if detail {
					for _, rec := range result.Records {
						fmt.Printf("%.3f  %s  [%s]  %s\n", rec.Score, rec.ID, rec.Type, rec.Content)
					}
					fmt.Printf("kept=%d dropped=%d mean=%.3f\n", result.Report.Kept, result.Report.Dropped, result.Report.MeanScore)
					return nil
				}
				if result.Context == "" {
					fmt.Println("(no relevant memories)")
					return nil
				}
				fmt.Println(result.Context)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner id to retrieve memories for")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Query text to match against memories")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Cap the number of memories considered")
	cmd.Flags().BoolVarP(&detail, "detail", "d", false, "Show scored records and the validation report")

	return cmd
}

func newLifecycleCommand() *cobra.Command {
	lifecycleRoot := &cobra.Command{
		Use:   "lifecycle",
		Short: "Run consolidation, aging, and purge maintenance",
	}

	lifecycleRoot.AddCommand(&cobra.Command{
		Use:     "run",
		Short:   "Run one consolidation and aging pass over all owners",
		Example: "  engram lifecycle run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *memory.Engine) error {
				report, err := e.RunLifecycle(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("owners=%d consolidated=%d archived=%d failed=%d\n",
					report.Owners, report.Consolidated, report.Archived, len(report.FailedOwners))
				return nil
			})
		},
	})

	lifecycleRoot.AddCommand(&cobra.Command{
		Use:     "purge <owner>",
		Short:   "Permanently delete an owner's archived records",
		Args:    cobra.ExactArgs(1),
		Example: "  engram lifecycle purge user-1",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *memory.Engine) error {
				n, err := e.PurgeArchived(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("purged %d archived records for %s\n", n, args[0])
				return nil
			})
		},
	})

	return lifecycleRoot
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Short:   "Show per-owner record counts, store size, and runtime metrics",
		Example: "  engram stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *memory.Engine) error {
				stats, err := e.Stats(ctx)
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
}

func newExportCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:     "export <owner>",
		Short:   "Export all of an owner's records as JSON",
		Args:    cobra.ExactArgs(1),
		Example: "  engram export user-1 --out user-1.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *memory.Engine) error {
				records, err := e.ExportOwner(ctx, args[0])
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return err
				}
				if outPath == "" {
					fmt.Println(string(out))
					return nil
				}
				return os.WriteFile(outPath, out, 0o644)
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "f", "", "Write the export to a file instead of stdout")
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the scheduled lifecycle worker until interrupted",
		Example: "  engram serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, e *memory.Engine) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				e.StartLifecycleWorker(ctx)
				fmt.Println("engram lifecycle worker running; Ctrl-C to stop")
				<-ctx.Done()
				return nil
			})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  engram version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
