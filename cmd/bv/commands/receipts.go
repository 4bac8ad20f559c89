// cmd/bv/commands/receipts.go

package commands

import (
	"fmt"

	"blobvault/pkg/types"

	"github.com/spf13/cobra"
)

var receiptsLimit int

var receiptsCmd = &cobra.Command{
	Use:   "receipts [blob-id]",
	Short: "List archived verification receipts for a blob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if BV == nil {
			return fmt.Errorf("app not initialized")
		}

		id := types.BlobID(args[0])
		if !id.IsValid() {
			return fmt.Errorf("invalid blob id: %s", args[0])
		}

		receipts, err := BV.Repo.FindReceiptsByBlob(cmd.Context(), id, receiptsLimit)
		if err != nil {
			return err
		}
		if len(receipts) == 0 {
			fmt.Println("⚠️  No receipts found for", id)
			return nil
		}

		for _, r := range receipts {
			fmt.Printf("📜 %s  %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Digest)
			fmt.Println("   ", string(r.Payload))
		}
		return nil
	},
}

func init() {
	receiptsCmd.Flags().IntVar(&receiptsLimit, "limit", 10, "Maximum receipts to show")
	rootCmd.AddCommand(receiptsCmd)
}
