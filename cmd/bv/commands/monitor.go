// cmd/bv/commands/monitor.go

package commands

import (
	"fmt"
	"os"
	"time"

	"blobvault/pkg/checksum"
	"blobvault/pkg/types"
	"blobvault/pkg/verify"

	"github.com/spf13/cobra"
)

var (
	monitorInterval time.Duration
	monitorAttempts uint32
	monitorTimeout  time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [blob-id] [file]",
	Short: "Poll a blob until it reads back matching the local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if BV == nil {
			return fmt.Errorf("app not initialized")
		}

		id := types.BlobID(args[0])
		if !id.IsValid() {
			return fmt.Errorf("invalid blob id: %s", args[0])
		}

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[1], err)
		}
		expected := checksum.Compute(data)

		outcome, err := BV.Verifier.MonitorBlobAvailability(cmd.Context(), id, expected, verify.MonitorOptions{
			Interval:    monitorInterval,
			MaxAttempts: monitorAttempts,
			Timeout:     monitorTimeout,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✅ Blob available (matched on attempt %d)\n", outcome.AttemptsMade)
		return nil
	},
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "Polling interval")
	monitorCmd.Flags().Uint32Var(&monitorAttempts, "attempts", 10, "Maximum attempts")
	monitorCmd.Flags().DurationVar(&monitorTimeout, "timeout", 0, "Overall timeout (0 = none)")
	rootCmd.AddCommand(monitorCmd)
}
