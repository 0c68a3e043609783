package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/yggdrasil/pkg/value"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a namespace",
	Long:  `Create the tree for a namespace explicitly; fails if it already exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceFromContext(cmd)
		if err != nil {
			return err
		}
		ns, err := namespaceFlag(cmd)
		if err != nil {
			return err
		}
		maxNodeSize, _ := cmd.Flags().GetInt("max-node-size")
		if maxNodeSize == 0 {
			maxNodeSize = configFromContext(cmd).Index.MaxNodeSize
		}

		if err := svc.Init(cmd.Context(), ns, maxNodeSize); err != nil {
			return err
		}
		fmt.Printf("Initialized namespace %s\n", value.Encode(ns))
		return nil
	},
}

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty a namespace (or every namespace with --all)",
	Long: `Drop all items of a namespace. The tree record is recreated empty and
the old node graph is then deleted one node per step before the command
exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceFromContext(cmd)
		if err != nil {
			return err
		}
		maxNodeSize, _ := cmd.Flags().GetInt("max-node-size")

		if all, _ := cmd.Flags().GetBool("all"); all {
			if err := svc.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Cleared all namespaces")
		} else {
			ns, err := namespaceFlag(cmd)
			if err != nil {
				return err
			}
			if err := svc.Clear(cmd.Context(), ns, maxNodeSize); err != nil {
				return err
			}
			fmt.Printf("Cleared namespace %s\n", value.Encode(ns))
		}
		return drainCleanup(cmd)
	},
}

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the structural invariants of a namespace's tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceFromContext(cmd)
		if err != nil {
			return err
		}
		ns, err := namespaceFlag(cmd)
		if err != nil {
			return err
		}
		if err := svc.Validate(cmd.Context(), ns); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

// namespacesCmd represents the namespaces command
var namespacesCmd = &cobra.Command{
	Use:   "namespaces",
	Short: "List namespaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceFromContext(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		cursor := ""
		for {
			page, err := svc.PaginateNamespaces(cmd.Context(), limit, cursor)
			if err != nil {
				return err
			}
			for _, ns := range page.Namespaces {
				fmt.Println(value.Encode(ns))
			}
			if page.IsDone {
				return nil
			}
			cursor = page.Cursor
		}
	},
}

// drainCleanup runs any scheduled node deletions before the process
// exits; a long-lived host would leave them to its scheduler.
func drainCleanup(cmd *cobra.Command) error {
	store, err := storeFromContext(cmd)
	if err != nil {
		return err
	}
	if d, ok := store.(interface {
		DrainWork(ctx context.Context) error
	}); ok {
		return d.DrainWork(cmd.Context())
	}
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(namespacesCmd)

	initCmd.Flags().Int("max-node-size", 0, "Fanout of the new tree (even, >= 4)")
	clearCmd.Flags().Int("max-node-size", 0, "New fanout (defaults to the current one)")
	clearCmd.Flags().Bool("all", false, "Clear every namespace")
	namespacesCmd.Flags().Int("limit", 50, "Page size")
}
