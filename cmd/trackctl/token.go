package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go_music/internal/streamproxy"
)

var flagProxyURL string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Encode or decode streaming proxy tokens",
}

var tokenEncodeCmd = &cobra.Command{
	Use:   "encode <locator> <ext>",
	Short: "Mint a token, or a full link with --proxy",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagProxyURL != "" {
			link, err := streamproxy.Link(flagProxyURL, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		}
		tok, err := streamproxy.EncodeToken(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var tokenDecodeCmd = &cobra.Command{
	Use:   "decode <token>",
	Short: "Print the locator and extension inside a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := streamproxy.DecodeToken(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "locator: %s\next:     %s\n", tok.Locator, tok.Ext)
		return nil
	},
}

func init() {
	tokenEncodeCmd.Flags().StringVar(&flagProxyURL, "proxy", "", "proxy base URL, e.g. http://127.0.0.1:8894")
	tokenCmd.AddCommand(tokenEncodeCmd, tokenDecodeCmd)
}
