package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	modelsListCmd.Flags().BoolVar(&modelsRefresh, "refresh", false, "Bypass the registry cache")
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsCurrentCmd)
	modelsCmd.AddCommand(modelsDeleteCmd)
	modelsCmd.AddCommand(modelsReplaceCmd)
	rootCmd.AddCommand(modelsCmd)
}

var modelsRefresh bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Browse and manage models",
}

var modelsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the model catalog with install status",
	RunE:    runModelsList,
}

func runModelsList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Models []struct {
			Name        string `json:"name"`
			SizeBytes   int64  `json:"sizeBytes"`
			IsInstalled bool   `json:"isInstalled"`
		} `json:"models"`
	}
	c := newRPCClient()
	if err := c.post("catalog.list", map[string]bool{"forceRefresh": modelsRefresh}, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tINSTALLED")
	for _, m := range resp.Models {
		installed := ""
		if m.IsInstalled {
			installed = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, humanSize(m.SizeBytes), installed)
	}
	return w.Flush()
}

var modelsCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the model local questions currently use",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Model     string `json:"model"`
			Installed bool   `json:"installed"`
		}
		if err := newRPCClient().post("model.getCurrent", nil, &resp); err != nil {
			return err
		}
		if resp.Model == "" {
			fmt.Println("No model in use yet.")
			return nil
		}
		status := "not installed"
		if resp.Installed {
			status = "installed"
		}
		fmt.Printf("%s (%s)\n", resp.Model, status)
		return nil
	},
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete MODEL",
	Short: "Delete a locally installed model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newRPCClient().post("model.delete", map[string]string{"name": args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var modelsReplaceCmd = &cobra.Command{
	Use:   "replace MODEL",
	Short: "Pull a model and delete the one it replaces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Gate on disk space first so a doomed pull fails fast.
		var check struct {
			HasEnoughSpace bool  `json:"hasEnoughSpace"`
			FreeBytes      int64 `json:"freeBytes"`
			RequiredBytes  int64 `json:"requiredBytes"`
		}
		c := newRPCClient()
		if err := c.post("disk.checkForModel", map[string]string{"modelName": args[0]}, &check); err != nil {
			return err
		}
		if !check.HasEnoughSpace {
			return fmt.Errorf("not enough disk space: %s free, %s needed",
				humanSize(check.FreeBytes), humanSize(check.RequiredBytes))
		}

		fmt.Printf("Pulling %s...\n", args[0])
		var resp struct {
			Model    string `json:"model"`
			Replaced string `json:"replaced"`
		}
		if err := c.post("model.pullAndReplace", map[string]string{"name": args[0]}, &resp); err != nil {
			return err
		}
		fmt.Printf("Now using %s", resp.Model)
		if resp.Replaced != "" {
			fmt.Printf(" (removed %s)", resp.Replaced)
		}
		fmt.Println()
		return nil
	},
}
