package cli

import (
	"bufio"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	chatCmd.Flags().StringVar(&chatMode, "mode", "", "Inference mode for a new chat (local or remote)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model for a new chat")
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(chatCmd)
}

var (
	chatMode  string
	chatModel string
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage chat sessions",
}

var chatsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List chat sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Chats []struct {
				ID        string    `json:"id"`
				Title     string    `json:"title"`
				Mode      string    `json:"mode"`
				UpdatedAt time.Time `json:"updatedAt"`
			} `json:"chats"`
		}
		if err := newRPCClient().post("chat.getAll", nil, &resp); err != nil {
			return err
		}
		if len(resp.Chats) == 0 {
			fmt.Println("No chats yet. Start one with 'parley chat'.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tMODE\tUPDATED")
		for _, c := range resp.Chats {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Title, c.Mode, c.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a chat session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newRPCClient().post("chat.delete", map[string]string{"id": args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("Deleted chat %s\n", args[0])
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [ID]",
	Short: "Start or resume an interactive chat",
	Long:  `Without an ID a new session is created; with one, that session resumes.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	c := newRPCClient()

	var session struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	if len(args) == 1 {
		if err := c.post("chat.switch", map[string]string{"id": args[0]}, &session); err != nil {
			return err
		}
		if err := c.post("chat.get", map[string]string{"id": args[0]}, &session); err != nil {
			return err
		}
		for _, m := range session.Messages {
			prefix := ">>>"
			if m.Role == "assistant" {
				prefix = "   "
			}
			fmt.Printf("%s %s\n", prefix, m.Content)
		}
	} else {
		if err := c.post("chat.create", map[string]string{
			"mode":  chatMode,
			"model": chatModel,
		}, &session); err != nil {
			return err
		}
	}

	fmt.Printf(">>> Chat %s (type /bye to exit)\n", session.ID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			break
		}
		input := scanner.Text()

		if input == "/bye" || input == "/exit" || input == "/quit" {
			fmt.Println("Goodbye!")
			return nil
		}
		if input == "" {
			continue
		}

		var reply struct {
			Content string `json:"content"`
		}
		if err := c.post("chat.sendMessage", map[string]string{
			"chatId": session.ID,
			"text":   input,
		}, &reply); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Println(reply.Content)
		fmt.Println()
	}
	return scanner.Err()
}
