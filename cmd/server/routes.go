package main

import (
	"github.com/spf13/cobra"

	"github.com/vikasavnish/stockwatch/internal/api"
	"github.com/vikasavnish/stockwatch/internal/identity"
	"github.com/vikasavnish/stockwatch/internal/tasks"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the registered HTTP routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Handlers are only built, never called, so no database is needed.
		a := buildApp(nil, identity.NewMemorySessionStore(), tasks.NewManager())
		return api.PrintRoutes(cmd.OutOrStdout(), a.router)
	},
}
