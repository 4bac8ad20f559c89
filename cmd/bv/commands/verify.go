// cmd/bv/commands/verify.go

package commands

import (
	"fmt"
	"os"

	"blobvault/pkg/types"

	"github.com/spf13/cobra"
)

var verifyAttrs map[string]string

var verifyCmd = &cobra.Command{
	Use:   "verify [blob-id] [file]",
	Short: "Re-verify a stored blob against a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if BV == nil {
			return fmt.Errorf("app not initialized")
		}

		id := types.BlobID(args[0])
		if !id.IsValid() {
			return fmt.Errorf("invalid blob id: %s", args[0])
		}

		expected, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[1], err)
		}

		result, err := BV.Verifier.VerifyBlob(cmd.Context(), id, expected, verifyAttrs)
		if err != nil {
			return err
		}

		fmt.Println("   Content:   ", result.ContentMatch)
		fmt.Println("   Metadata:  ", result.MetadataMatch)
		fmt.Println("   Certified: ", result.Certified)
		fmt.Println("   Providers: ", result.ProviderCount)
		if result.Success {
			fmt.Println("✅ Verification passed")
		} else {
			fmt.Println("❌ Verification failed")
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringToStringVar(&verifyAttrs, "attr", nil, "Expected attributes (key=value)")
	rootCmd.AddCommand(verifyCmd)
}
