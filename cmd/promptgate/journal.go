package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/promptgate/pkg/journal"
	"github.com/pario-ai/promptgate/pkg/models"
)

func openJournal(configPath string) (*journal.Journal, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return journal.New(cfg.Journal.DBPath, cfg.Journal.Buffer)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func newFeedbackCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "List recorded feedback, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			recs, err := j.Feedback(context.Background(), models.JournalQueryOpts{Limit: limit})
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No feedback recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRATING\tPROMPT\tCORRECTION\tCREATED")
			for _, r := range recs {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", r.ID, r.Rating, truncate(r.Prompt, 40),
					truncate(r.Correction, 30), r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", journal.DefaultLimit, "maximum number of records")
	return cmd
}

func newDocumentsCmd() *cobra.Command {
	var (
		configPath string
		domain     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List or add knowledge-base documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			recs, err := j.Documents(context.Background(), models.JournalQueryOpts{Domain: domain, Limit: limit})
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No documents recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFILENAME\tDOMAIN\tSIZE\tCREATED")
			for _, r := range recs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", r.ID, r.Filename, r.Domain, len(r.Content),
					r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	addCmd := &cobra.Command{
		Use:   "add FILE",
		Short: "Record a text document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			j, err := openJournal(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			id, err := j.AddDocument(context.Background(), models.DocumentRecord{
				Filename: filepath.Base(args[0]),
				Content:  string(content),
				Domain:   domain,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Document %d recorded.\n", id)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVarP(&domain, "domain", "d", "", "document domain (listing: all domains; add: "+journal.DefaultDomain+")")
	cmd.Flags().IntVarP(&limit, "limit", "n", journal.DefaultLimit, "maximum number of records")
	cmd.AddCommand(addCmd)
	return cmd
}
