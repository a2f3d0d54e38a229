package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetsim/fleetsim/config"
)

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a constants-table YAML file without running a simulation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigPath)
		if err != nil {
			return err
		}
		fmt.Printf("config OK: %+v\n", cfg.Limits)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "", "Path to a YAML constants-table file")
}
