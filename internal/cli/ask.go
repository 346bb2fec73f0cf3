package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	askCmd.Flags().StringVar(&askModel, "model", "", "Model to ask (default: resolved by the daemon)")
	askCmd.Flags().StringVar(&askSource, "source", "", "Force a backend (local or remote) regardless of the configured mode")
	rootCmd.AddCommand(askCmd)
}

var (
	askModel  string
	askSource string
)

var askCmd = &cobra.Command{
	Use:   "ask QUESTION...",
	Short: "Ask a one-off question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	var result struct {
		Response string `json:"response"`
		Source   string `json:"source"`
		Model    string `json:"model"`
	}
	c := newRPCClient()
	if err := c.post("ai.ask", map[string]string{
		"query":       question,
		"model":       askModel,
		"forceSource": askSource,
	}, &result); err != nil {
		return err
	}

	fmt.Println(result.Response)
	fmt.Printf("\n[%s via %s]\n", result.Model, result.Source)
	return nil
}
