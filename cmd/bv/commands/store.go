// cmd/bv/commands/store.go

package commands

import (
	"fmt"
	"os"
	"time"

	"blobvault/pkg/flow"
	"blobvault/pkg/verify"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	storeDays     uint32
	storeAttrs    map[string]string
	storeNoWait   bool
	storeReadback bool
	storeMonitor  uint32
)

var storeCmd = &cobra.Command{
	Use:   "store [file]",
	Short: "Upload a file and verify it end to end",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if BV == nil {
			return fmt.Errorf("app not initialized")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		opts := flow.Options{
			DurationDays: storeDays,
			Upload: verify.UploadOptions{
				WaitForCertification: viper.GetBool("verify.wait_for_certification") && !storeNoWait,
				WaitTimeout:          viper.GetDuration("verify.wait_timeout"),
				PollInterval:         viper.GetDuration("verify.poll_interval"),
				MinProviders:         uint32(viper.GetUint("verify.min_providers")),
			},
			Attributes:       storeAttrs,
			VerifyReadback:   storeReadback,
			ExpectedMetadata: storeAttrs,
		}
		if storeMonitor > 0 {
			opts.Monitor = &verify.MonitorOptions{
				Interval:    viper.GetDuration("verify.poll_interval"),
				MaxAttempts: storeMonitor,
			}
		}

		start := time.Now()
		result, err := BV.Flow.Run(cmd.Context(), data, opts)
		if err != nil {
			return err
		}

		fmt.Printf("✅ Stored %s (%d bytes) in %s\n", args[0], len(data), time.Since(start))
		fmt.Println("   Blob ID:   ", result.Upload.BlobID)
		fmt.Println("   Certified: ", result.Upload.Certified)
		fmt.Println("   Providers: ", result.Upload.ProviderCount)
		if result.Readback != nil {
			fmt.Println("   Readback:  ", result.Readback.ContentMatch)
		}
		if result.Monitoring != nil {
			fmt.Printf("   Monitoring: ok=%v after %d attempts\n",
				result.Monitoring.Successful, result.Monitoring.AttemptsMade)
		}
		return nil
	},
}

func init() {
	storeCmd.Flags().Uint32Var(&storeDays, "days", 30, "Storage duration in days")
	storeCmd.Flags().StringToStringVar(&storeAttrs, "attr", nil, "Attributes to attach (key=value)")
	storeCmd.Flags().BoolVar(&storeNoWait, "no-wait", false, "Do not wait for network certification")
	storeCmd.Flags().BoolVar(&storeReadback, "verify", false, "Read the blob back and verify content")
	storeCmd.Flags().Uint32Var(&storeMonitor, "monitor", 0, "Monitor availability for N attempts after upload")
	rootCmd.AddCommand(storeCmd)
}
