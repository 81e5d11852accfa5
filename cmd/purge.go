package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var purgeAll bool

var purgeCmd = &cobra.Command{
	Use:   "purge [source/handle]",
	Short: "Remove cached documents",
	Long:  "Removes the cached document for one target, or every cached document with --all. Stored media is left in place.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docCache, err := initCache()
		if err != nil {
			return err
		}

		if purgeAll {
			n, err := docCache.PurgeAll()
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d cached document(s).\n", n)
			return nil
		}

		if len(args) == 0 {
			return eris.New("give a target as source/handle, or --all")
		}
		target, err := parseTarget(args[0])
		if err != nil {
			return err
		}
		if err := docCache.Purge(target); err != nil {
			return err
		}
		fmt.Printf("Purged %s.\n", target)
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeAll, "all", false, "purge every cached document")
	rootCmd.AddCommand(purgeCmd)
}
