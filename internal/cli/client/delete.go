package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// DeleteCmd creates the delete command.
func DeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a knowledge base",
		Long: `Deletes a knowledge base together with its stored file and search index.
Asks for confirmation unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			s, _, err := newSession(cmd)
			if err != nil {
				return err
			}
			if err := s.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("failed to load knowledge bases: %w", err)
			}
			kb, ok := s.Lookup(id)
			if !ok {
				return fmt.Errorf("knowledge base %d not found", id)
			}

			if err := s.RequestDelete(kb.ID, kb.Name); err != nil {
				return err
			}
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), deletePrompt(kb.ID, kb.Name)) {
				if err := s.CancelDelete(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}

			if err := s.ConfirmDelete(cmd.Context()); err != nil {
				return fmt.Errorf("failed to delete knowledge base: %w", err)
			}

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"id":      kb.ID,
					"name":    kb.Name,
					"deleted": true,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted knowledge base #%d: %s\n", kb.ID, kb.Name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func deletePrompt(id int64, name string) string {
	return fmt.Sprintf("Delete knowledge base #%d %q? This cannot be undone. [y/N]: ", id, name)
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
