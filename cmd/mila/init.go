package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotmila/mila/internal/config"
	"github.com/spf13/cobra"
)

const envTemplate = `# Mila runtime configuration
LLM_API_KEY=
# LLM_BASE_URL=https://api.openai.com
# LLM_MODEL_US=gpt-4o-mini
# LLM_MODEL_CN=
# REGION=us
# MILA_HTTP_ADDR=:8720
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the runtime directory and a .env template",
	RunE: func(cmd *cobra.Command, args []string) error {
		runtimePath := config.GetRuntimePath()
		if err := os.MkdirAll(runtimePath, 0755); err != nil {
			return fmt.Errorf("failed to create runtime directory: %w", err)
		}

		envFile := filepath.Join(runtimePath, ".env")
		if _, err := os.Stat(envFile); err == nil {
			fmt.Printf("%s already exists, leaving it untouched\n", envFile)
			return nil
		}

		if err := os.WriteFile(envFile, []byte(envTemplate), 0600); err != nil {
			return fmt.Errorf("failed to write env template: %w", err)
		}

		fmt.Printf("initialized runtime at %s\n", runtimePath)
		fmt.Println("set LLM_API_KEY in .env, then run: mila start")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
