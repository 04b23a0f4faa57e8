package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ytmeta/ytmeta/internal/core/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create ytmeta config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", config.SavePath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
