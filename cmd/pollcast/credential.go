package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sjawhar/pollcast/internal/config"
)

func newCredentialCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the poll generator API key stored on this machine",
	}
	cmd.AddCommand(
		newCredentialSetCmd(a),
		newCredentialShowCmd(a),
		newCredentialClearCmd(a),
	)
	return cmd
}

func newCredentialSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set [key]",
		Short: "Store the API key (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(a.stdin).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no key given on the command line or stdin")
				}
				key = line
			}

			warning, err := a.creds.Save(key)
			if err != nil {
				return err
			}
			if warning != "" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved credential to %s\n", a.creds.Path())
			return nil
		},
	}
}

func newCredentialShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored API key, masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := a.creds.Load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(key) == "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no credential stored")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", config.Mask(key), a.creds.Path())
			return nil
		},
	}
}

func newCredentialClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.creds.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "credential removed")
			return nil
		},
	}
}
