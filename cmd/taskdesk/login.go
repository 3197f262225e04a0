package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/credential"
	"github.com/nhle/taskdesk/internal/session"
)

func loginCmd() *cobra.Command {
	var token, email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for the configured server",
		Long: `Store a bearer token in the system keyring.

Examples:
  taskdesk login --email john@example.com --password secret
  taskdesk login --token eyJhbGciOi...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" && email == "" {
				return errors.New("specify --token or --email and --password")
			}

			e, err := setup(true)
			if err != nil {
				return err
			}
			defer e.close()

			if token == "" {
				token, err = e.sessions.Authenticate(cmd.Context(), email, password)
				if err != nil {
					return fmt.Errorf("signing in: %w", err)
				}
			}

			sess, err := auth.NewSession(token)
			if err != nil {
				return err
			}
			if sess.Expired() {
				return auth.ErrTokenExpired
			}
			if err := e.tokens.Set(e.tokenKey, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as user %s on %s\n", sess.UserID(), e.cfg.Server.BaseURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token to store")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagsMutuallyExclusive("token", "email")
	cmd.MarkFlagsRequiredTogether("email", "password")

	return cmd
}

func registerCmd() *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the configured server and sign in",
		Long: `Create an account, then store a token for it in the system keyring.

Examples:
  taskdesk register --name "John Doe" --email john@example.com --password secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(true)
			if err != nil {
				return err
			}
			defer e.close()

			u, err := e.sessions.Register(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}

			token, err := e.sessions.Authenticate(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("signing in: %w", err)
			}
			if err := e.tokens.Set(e.tokenKey, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as user %s on %s\n", u.Email, u.ID, e.cfg.Server.BaseURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	for _, f := range []string{"name", "email", "password"} {
		_ = cmd.MarkFlagRequired(f)
	}

	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(true)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.tokens.Delete(e.tokenKey); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

// startStoredSession builds a session scope from the stored token.
func startStoredSession(e *env) (*session.Scope, error) {
	token, err := e.tokens.Get(e.tokenKey)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, errors.New("not signed in; run taskdesk login")
	}
	if err != nil {
		return nil, err
	}

	scope, err := e.sessions.Login(token)
	if err != nil {
		return nil, err
	}
	if scope.Session.Expired() {
		e.sessions.Logout()
		return nil, fmt.Errorf("%w; run taskdesk login", auth.ErrTokenExpired)
	}
	return scope, nil
}
