package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a blobvault repository in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}

		repoPath := filepath.Join(wd, ".bv")
		blobPath := filepath.Join(repoPath, "blobs")

		if _, err := os.Stat(repoPath); err == nil {
			fmt.Println("⚠️  Repository already initialized:", repoPath)
			return nil
		}

		if err := os.MkdirAll(blobPath, 0o755); err != nil {
			return fmt.Errorf("failed to create repository: %w", err)
		}

		// 写一份最小配置，方便用户后续编辑
		cfg := "storage:\n  type: disk\n  path: " + blobPath + "\ndatabase:\n  driver: sqlite\n"
		if err := os.WriteFile(filepath.Join(repoPath, "config.yaml"), []byte(cfg), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}

		fmt.Println("✅ Initialized empty blobvault repository in", repoPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
