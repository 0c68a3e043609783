package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/yggdrasil/pkg/btree"
	"github.com/ssargent/yggdrasil/pkg/index"
	"github.com/ssargent/yggdrasil/pkg/value"
)

// insertCmd represents the insert command
var insertCmd = &cobra.Command{
	Use:   "insert <key> <value>",
	Short: "Insert a key/value pair",
	Long: `Insert an item into a namespace. Keys are structured values written in
the cursor encoding; a bare word is taken as a string key.

Example:
  ygg insert --ns '"users"' '["smith", 42]' doc_8313`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceFromContext(cmd)
		if err != nil {
			return err
		}
		ns, err := namespaceFlag(cmd)
		if err != nil {
			return err
		}
		if err := svc.Insert(cmd.Context(), ns, parseKey(args[0]), args[1]); err != nil {
			return err
		}
		fmt.Println("inserted")
		return nil
	},
}

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Look up a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceFromContext(cmd)
		if err != nil {
			return err
		}
		ns, err := namespaceFlag(cmd)
		if err != nil {
			return err
		}
		item, err := svc.Get(cmd.Context(), ns, parseKey(args[0]))
		if err != nil {
			return err
		}
		if item == nil {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Printf("%s\t%s\n", value.Encode(item.Key), item.Value)
		return nil
	},
}

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceFromContext(cmd)
		if err != nil {
			return err
		}
		ns, err := namespaceFlag(cmd)
		if err != nil {
			return err
		}
		key := parseKey(args[0])

		var removed *btree.Item
		if ifExists, _ := cmd.Flags().GetBool("if-exists"); ifExists {
			removed, err = svc.DeleteIfExists(cmd.Context(), ns, key)
		} else {
			removed, err = svc.Delete(cmd.Context(), ns, key)
		}
		if err != nil {
			return err
		}
		if removed == nil {
			fmt.Println("(not found)")
		} else {
			fmt.Println("deleted")
		}
		return nil
	},
}

// replaceCmd represents the replace command
var replaceCmd = &cobra.Command{
	Use:   "replace <current-key> <new-key> <value>",
	Short: "Replace an item's key and value atomically",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceFromContext(cmd)
		if err != nil {
			return err
		}
		ns, err := namespaceFlag(cmd)
		if err != nil {
			return err
		}

		req := index.ReplaceRequest{
			Namespace:  ns,
			CurrentKey: parseKey(args[0]),
			NewKey:     parseKey(args[1]),
			Value:      args[2],
		}
		if cmd.Flags().Changed("new-ns") {
			raw, _ := cmd.Flags().GetString("new-ns")
			if raw != "" {
				newNs, err := value.Decode(raw)
				if err != nil {
					return fmt.Errorf("invalid namespace %q: %w", raw, err)
				}
				req.NewNamespace = newNs
			}
			req.ChangeNamespace = true
		}

		if upsert, _ := cmd.Flags().GetBool("upsert"); upsert {
			err = svc.ReplaceOrInsert(cmd.Context(), req)
		} else {
			err = svc.Replace(cmd.Context(), req)
		}
		if err != nil {
			return err
		}
		fmt.Println("replaced")
		return nil
	},
}

// paginateCmd represents the paginate command
var paginateCmd = &cobra.Command{
	Use:   "paginate",
	Short: "Walk a namespace's items in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceFromContext(cmd)
		if err != nil {
			return err
		}
		ns, err := namespaceFlag(cmd)
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		order, _ := cmd.Flags().GetString("order")
		cursor, _ := cmd.Flags().GetString("cursor")
		all, _ := cmd.Flags().GetBool("all")

		opts := btree.PaginateOptions{Limit: limit, Order: btree.Order(order), Cursor: cursor}
		if raw, _ := cmd.Flags().GetString("k1"); raw != "" {
			opts.K1 = &btree.Bound{Key: parseKey(raw)}
		}
		if raw, _ := cmd.Flags().GetString("k2"); raw != "" {
			opts.K2 = &btree.Bound{Key: parseKey(raw)}
		}

		for {
			page, err := svc.Paginate(cmd.Context(), ns, opts)
			if err != nil {
				return err
			}
			for _, item := range page.Items {
				fmt.Printf("%s\t%s\n", value.Encode(item.Key), item.Value)
			}
			if page.IsDone {
				return nil
			}
			if !all {
				fmt.Printf("cursor: %s\n", page.Cursor)
				return nil
			}
			opts.Cursor = page.Cursor
		}
	},
}

func init() {
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(replaceCmd)
	rootCmd.AddCommand(paginateCmd)

	deleteCmd.Flags().Bool("if-exists", false, "Do not fail when the key is absent")
	replaceCmd.Flags().String("new-ns", "", "Move the item into this namespace")
	replaceCmd.Flags().Bool("upsert", false, "Insert when the current key is absent")
	paginateCmd.Flags().Int("limit", 50, "Page size")
	paginateCmd.Flags().String("order", "asc", "Walk order: asc or desc")
	paginateCmd.Flags().String("cursor", "", "Resume cursor from a previous page")
	paginateCmd.Flags().String("k1", "", "Inclusive lower bound")
	paginateCmd.Flags().String("k2", "", "Inclusive upper bound")
	paginateCmd.Flags().Bool("all", false, "Keep fetching pages until done")
}
