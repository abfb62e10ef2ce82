package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/vault"
)

// secretFields are read without echo.
var secretFields = map[string]bool{"password": true, "cvv": true, "number": true}

func newItemsCmd() *cobra.Command {
	itemsCmd := &cobra.Command{
		Use:   "items",
		Short: "Manage vault items",
		Long:  "Every items command logs in interactively, runs once and logs out.",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			sync, _ := cmd.Flags().GetBool("sync")
			return withSession(cmd, func(ctx context.Context, s *cliSession) error {
				if sync {
					if err := s.vault.Sync(ctx); err != nil {
						return err
					}
				}
				page, err := s.vault.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				writeItemTable(cmd.OutOrStdout(), page)
				return nil
			})
		},
	}
	listCmd.Flags().Int("limit", vault.DefaultPageLimit, "items per page")
	listCmd.Flags().Int("offset", 0, "items to skip")
	listCmd.Flags().Bool("sync", false, "refresh the local mirror from the server first")

	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := vault.ParseItemType(mustString(cmd, "type"))
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *cliSession) error {
				fields, err := promptFields(s.env.prompt, t)
				if err != nil {
					return err
				}
				item, err := s.vault.Create(ctx, args[0], t, fields)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s.\n", item.ID)
				return nil
			})
		},
	}
	addCmd.Flags().String("type", string(vault.TypeCredential), "item type (credential, card, note)")

	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Decrypt and print an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *cliSession) error {
				item, err := s.vault.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fields, err := s.vault.Reveal(ctx, args[0])
				if err != nil {
					return err
				}
				writeItem(cmd.OutOrStdout(), item, fields)
				return nil
			})
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Rename an item or change its fields",
		Long: `Prompts for a new name and then each field of the item's type. An empty
answer keeps the current value and "` + clearValue + `" removes the field.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *cliSession) error {
				item, err := s.vault.Get(ctx, args[0])
				if err != nil {
					return err
				}
				name, err := s.env.prompt.line("Name [" + item.Name + "]")
				if err != nil {
					return err
				}
				changes, err := promptChanges(s.env.prompt, item.Type)
				if err != nil {
					return err
				}
				if name == "" && len(changes) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to change.")
					return nil
				}
				if _, err := s.vault.Update(ctx, item.ID, name, changes); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s.\n", item.ID)
				return nil
			})
		},
	}

	removeCmd := &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *cliSession) error {
				if err := s.vault.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
				return nil
			})
		},
	}

	itemsCmd.AddCommand(listCmd, addCmd, showCmd, editCmd, removeCmd)
	return itemsCmd
}

// clearValue, entered while editing, removes a field.
const clearValue = "-"

// promptFields asks for each field of t. Empty answers are skipped.
func promptFields(p *prompter, t vault.ItemType) (map[string]string, error) {
	fields := make(map[string]string)
	for _, name := range t.Fields() {
		v, err := promptField(p, name)
		if err != nil {
			return nil, err
		}
		if v != "" {
			fields[name] = v
		}
	}
	return fields, nil
}

// promptChanges asks for each field of t and returns the change set for
// vault.Service.Update: skipped fields are left out and clearValue maps to
// an empty value.
func promptChanges(p *prompter, t vault.ItemType) (map[string]string, error) {
	changes := make(map[string]string)
	for _, name := range t.Fields() {
		v, err := promptField(p, name)
		if err != nil {
			return nil, err
		}
		switch v {
		case "":
		case clearValue:
			changes[name] = ""
		default:
			changes[name] = v
		}
	}
	return changes, nil
}

func promptField(p *prompter, name string) (string, error) {
	if !secretFields[name] {
		return p.line(name)
	}
	b, err := p.secret(name)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(b)
	return string(b), nil
}

func writeItemTable(w io.Writer, page *vault.ItemPage) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tUPDATED")
	for _, it := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.ID, it.Name, it.Type, it.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
	if end := page.Offset + len(page.Items); end < page.Total {
		fmt.Fprintf(w, "\n%d-%d of %d, use --offset %d for more\n", page.Offset+1, end, page.Total, end)
	}
}

func writeItem(w io.Writer, item *vault.Item, fields map[string]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", item.ID)
	fmt.Fprintf(tw, "name\t%s\n", item.Name)
	fmt.Fprintf(tw, "type\t%s\n", item.Type)
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		fmt.Fprintf(tw, "%s\t%s\n", name, fields[name])
	}
	tw.Flush()
}
