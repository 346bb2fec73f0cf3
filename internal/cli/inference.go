package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	inferenceSetCmd.Flags().StringVar(&infAPIKey, "api-key", "", "Remote API key")
	inferenceSetCmd.Flags().StringVar(&infBaseURL, "base-url", "", "Remote API base URL")
	inferenceSetCmd.Flags().StringVar(&infDefault, "default-model", "", "Default remote model")
	inferenceCmd.AddCommand(inferenceModeCmd)
	inferenceCmd.AddCommand(inferenceSetCmd)
	inferenceCmd.AddCommand(inferenceTestCmd)
	rootCmd.AddCommand(inferenceCmd)
}

var (
	infAPIKey  string
	infBaseURL string
	infDefault string
)

var inferenceCmd = &cobra.Command{
	Use:   "inference",
	Short: "Inspect and change inference settings",
}

var inferenceModeCmd = &cobra.Command{
	Use:   "mode [local|remote]",
	Short: "Show or set the inference mode",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newRPCClient()
		if len(args) == 0 {
			var resp struct {
				Mode string `json:"mode"`
			}
			if err := c.post("inference.getMode", nil, &resp); err != nil {
				return err
			}
			fmt.Println(resp.Mode)
			return nil
		}
		if err := c.post("inference.setMode", map[string]string{"mode": args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("Mode set to %s\n", args[0])
		return nil
	},
}

var inferenceSetCmd = &cobra.Command{
	Use:   "configure",
	Short: "Configure the remote backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if infAPIKey == "" {
			return fmt.Errorf("--api-key is required")
		}
		req := map[string]any{
			"mode": "remote",
			"remoteConfig": map[string]string{
				"apiKey":       infAPIKey,
				"baseUrl":      infBaseURL,
				"defaultModel": infDefault,
			},
		}
		if err := newRPCClient().post("inference.setConfig", req, nil); err != nil {
			return err
		}
		fmt.Println("Remote backend configured.")
		return nil
	},
}

var inferenceTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the remote connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Connected bool   `json:"connected"`
			Error     string `json:"error"`
		}
		if err := newRPCClient().post("inference.testConnection", nil, &resp); err != nil {
			return err
		}
		if resp.Connected {
			fmt.Println("Connection OK.")
			return nil
		}
		return fmt.Errorf("connection failed: %s", resp.Error)
	},
}
