package handlers

import (
	"fmt"

	"simdoc/internal/config"

	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config command for printing the effective config
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			for _, line := range cfg.Summary() {
				fmt.Println(line)
			}
			return nil
		},
	}
	return cmd
}
