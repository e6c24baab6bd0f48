package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          appName,
		Short:        "Real-time chat sync client",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.bootstrap(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"Path to YAML configuration file (or set ROOMSYNC_CONFIG)")

	rootCmd.AddCommand(
		buildServeCmd(a),
		buildLoginCmd(a),
		buildLogoutCmd(a),
		buildRoomsCmd(a),
		buildTailCmd(a),
	)
	return rootCmd
}

func buildServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine behind the local API",
		Long: `Start conversation polling and serve the local API, the /api/stream
WebSocket and /metrics on the configured loopback address.

Shuts down gracefully on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a)
		},
	}
}

func buildLoginCmd(a *app) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in and store the session",
		Example: `  roomsync login alice --password secret
  ROOMSYNC_PASSWORD=secret roomsync login alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), a, cmd.OutOrStdout(), args[0], password)
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (or set ROOMSYNC_PASSWORD)")
	return cmd
}

func buildLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(a, cmd.OutOrStdout())
		},
	}
}

func buildRoomsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List conversations with their last message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRooms(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

func buildTailCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tail <roomId>",
		Short: "Follow a room and send stdin lines to it",
		Long: `Open a room, print its history and every confirmed message as it
arrives. Each line read from stdin is sent as a message.

Lines starting with a slash are commands:
  /reconnect   reconnect after the retries ran out
  /quit        leave the room`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout(), args[0])
		},
	}
}
