package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ytrelay/storage"
	"ytrelay/youtube"
)

var errOAuthUnset = errors.New("oauth.client_id and oauth.client_secret must be configured")

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorise uploads to a YouTube channel",
}

var authURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the consent URL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.OAuth.ClientID == "" {
			return errOAuthUnset
		}
		oauth := youtube.OAuthConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.RedirectURL)
		fmt.Fprintln(cmd.OutOrStdout(), youtube.AuthURL(oauth, userID))
		return nil
	},
}

var authExchangeCmd = &cobra.Command{
	Use:   "exchange <code>",
	Short: "Trade the code from the consent redirect for tokens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())
		if a.oauth == nil {
			return errOAuthUnset
		}

		creds, err := youtube.Exchange(cmd.Context(), a.oauth, a.store, userID, args[0])
		if err != nil {
			return err
		}
		printCredentials(cmd, creds)
		return nil
	},
}

var authRefreshToken string

var authSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a refresh token obtained elsewhere",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if authRefreshToken == "" {
			return errors.New("--refresh-token is required")
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		creds := &storage.Credentials{
			UserID:       userID,
			RefreshToken: authRefreshToken,
			UpdatedAt:    time.Now(),
		}
		if err := a.store.PutTokens(cmd.Context(), creds); err != nil {
			return err
		}
		printCredentials(cmd, creds)
		return nil
	},
}

func init() {
	authSetCmd.Flags().StringVar(&authRefreshToken, "refresh-token", "", "OAuth refresh token with the youtube.upload scope")
	authCmd.AddCommand(authURLCmd, authExchangeCmd, authSetCmd)
}

func printCredentials(cmd *cobra.Command, creds *storage.Credentials) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Stored credentials for %s\n", creds.UserID)
	if creds.RefreshToken == "" {
		fmt.Fprintln(out, "Warning: no refresh token was issued, automation stops once the access token expires")
	}
}
