package main

import (
	"fmt"
	"net/http"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	authEmail    string
	authPassword string
	authName     string
)

func init() {
	registerCmd.Flags().StringVar(&authEmail, "email", "", "Account email (required)")
	registerCmd.Flags().StringVar(&authName, "name", "", "Display name (required)")
	_ = registerCmd.MarkFlagRequired("email")
	_ = registerCmd.MarkFlagRequired("name")

	loginCmd.Flags().StringVar(&authEmail, "email", "", "Account email (required)")
	_ = loginCmd.MarkFlagRequired("email")
}

// readPassword prompts on the terminal without echo.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an operator account",
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		body := map[string]string{
			"email":    authEmail,
			"password": pw,
			"name":     authName,
		}

		c := newAPIClient()
		var created struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		}
		if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/auth/register", body, &created); err != nil {
			return err
		}

		fmt.Printf("✓ Account %s registered\n", created.Email)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print an access token",
	Long: `Log in and print the bearer token for subsequent commands.

Export it so vmctl picks it up automatically:
  export VMFLEET_TOKEN=$(vmctl login --email you@example.com)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		body := map[string]string{
			"email":    authEmail,
			"password": pw,
		}

		c := newAPIClient()
		var session struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
			ExpiresIn   int    `json:"expires_in"`
		}
		if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/auth/login", body, &session); err != nil {
			return err
		}

		// Print only the token so the command composes with export.
		fmt.Println(session.AccessToken)
		return nil
	},
}
