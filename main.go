package main

import (
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "catalog-sync",
	Short: "Keep a local product catalog and category index in sync with the source API",
	Long: `catalog-sync fetches the product catalog from the source API, upserts it
into the local document store by product name, and derives the category
index from the stored products.

Run "catalog-sync serve" for the scheduled service, or "catalog-sync sync"
for a single pass.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file loaded before the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
