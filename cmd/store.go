package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teemow/mailledger/internal/config"
	"github.com/teemow/mailledger/internal/store"
)

// openConfiguredStore loads config and opens the transaction store without
// the rest of the pipeline, for the read-only and maintenance commands.
func openConfiguredStore() (*store.Store, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Database.Path)
}

func newListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print stored transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			ctx := cmd.Context()
			transactions, err := s.List(ctx, limit)
			if err != nil {
				return err
			}
			count, err := s.Count(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tAMOUNT\tCATEGORY\tDESCRIPTION\tSENDER")
			for _, t := range transactions {
				fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\n",
					t.Date.Format(store.DateLayout), t.Amount, t.Category, t.Description, t.Sender)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Printf("\n%d of %d transactions\n", len(transactions), count)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of transactions to print")
	return cmd
}

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all stored transactions",
		Long: `Delete every stored transaction. The next poll cycle will start from the
configured lookback window again, as if the store had just been created.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			ctx := cmd.Context()
			count, err := s.Count(ctx)
			if err != nil {
				return err
			}
			if count == 0 {
				fmt.Println("store is already empty")
				return nil
			}

			if !yes {
				fmt.Printf("delete all %d stored transactions? [y/N]: ", count)
				reader := bufio.NewReader(os.Stdin)
				answer, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
					fmt.Println("aborted")
					return nil
				}
			}

			if err := s.ClearAll(ctx); err != nil {
				return err
			}
			fmt.Printf("deleted %d transactions\n", count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}
