package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"carbonmap/core-go/internal/config"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mint-token",
		Short:        "Mint access and confirmation tokens for local development",
		SilenceUsage: true,
	}
	cmd.AddCommand(newAccessCmd(), newConfirmCmd())
	return cmd
}

// loadConfig reads the same environment as the server so tokens verify
// against it.
func loadConfig() (config.Config, error) {
	return config.Load()
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
