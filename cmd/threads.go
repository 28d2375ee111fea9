package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rentmail/models"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Inspect the thread store",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored threads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		threads, err := store.ReadAll(cmd.Context())
		if err != nil {
			return err
		}
		return printThreads(cmd.OutOrStdout(), threads)
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a thread and all its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteThread(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("delete %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted thread %s\n", args[0])
		return nil
	},
}

func init() {
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsDeleteCmd)
}

func printThreads(out io.Writer, threads []models.Thread) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tMESSAGES\tUPDATED\tPREVIEW")
	for _, t := range threads {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			t.ID, t.Subject, len(t.Messages), t.Date.Format(time.RFC3339), t.Preview)
	}
	return w.Flush()
}
