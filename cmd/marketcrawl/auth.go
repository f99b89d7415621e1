package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"marketcrawl/pkg/auth"
	"marketcrawl/pkg/ui"
)

var authAccount string

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the metadata API token",
	Long: `Manage the API token used by the lookup commands.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (MARKETCRAWL_API_TOKEN, read only)`,
}

var authSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store an API token",
	Example: `  # Interactive, the token is not echoed
  marketcrawl auth set

  # Store a second token under its own name
  marketcrawl auth set --account ci`,
	Args: cobra.NoArgs,
	Run:  runAuthSet,
}

var authShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored tokens (masked)",
	Args:  cobra.NoArgs,
	Run:   runAuthShow,
}

var authDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove a stored token",
	Args:  cobra.NoArgs,
	Run:   runAuthDelete,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authShowCmd)
	authCmd.AddCommand(authDeleteCmd)

	authCmd.PersistentFlags().StringVarP(&authAccount, "account", "a", auth.DefaultAccount, "token name")
}

func newCredentialManager() *auth.Manager {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}
	return manager
}

func runAuthSet(cmd *cobra.Command, args []string) {
	manager := newCredentialManager()
	reader := bufio.NewReader(os.Stdin)

	auth.ShowTokenGuide()
	fmt.Println()

	if existing, _ := manager.Retrieve(authAccount); existing != nil {
		fmt.Printf("A token named '%s' already exists. Replace it? (y/N): ", authAccount)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	fmt.Print("API token: ")
	token, err := readSecret(reader)
	if err != nil {
		ui.PrintError("Failed to read token", err.Error())
		os.Exit(1)
	}
	if token == "" {
		ui.PrintError("Token is required")
		os.Exit(1)
	}

	if err := manager.Store(&auth.Credential{Account: authAccount, Token: token}); err != nil {
		ui.PrintError("Failed to store token", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("Token saved: %s (%s)", authAccount, auth.MaskToken(token)))
}

func runAuthShow(cmd *cobra.Command, args []string) {
	manager := newCredentialManager()

	creds, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list tokens", err.Error())
		os.Exit(1)
	}
	if len(creds) == 0 {
		ui.PrintInfo("No stored tokens", "Use 'marketcrawl auth set' to add one")
		return
	}

	ui.PrintHighlight("Stored Tokens")
	for _, cred := range creds {
		fmt.Printf("  %s\t%s\t%s\n", cred.Account, auth.MaskToken(cred.Token),
			cred.LastModified.Format("2006-01-02 15:04:05"))
	}
}

func runAuthDelete(cmd *cobra.Command, args []string) {
	manager := newCredentialManager()

	fmt.Printf("Remove token '%s'? (y/N): ", authAccount)
	input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
		return
	}

	if err := manager.Delete(authAccount); err != nil {
		ui.PrintError("Failed to remove token", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Token removed: " + authAccount)
}

// readSecret reads a line from stdin without echo when it is a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
