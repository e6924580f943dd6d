// Copyright 2024 dbsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsync-io/dbsync/pkg/cmd/client"
	"github.com/dbsync-io/dbsync/pkg/cmd/server"
	"github.com/dbsync-io/dbsync/pkg/version"
)

// NewCmd creates the root command.
func NewCmd() *cobra.Command {
	command := &cobra.Command{
		Use:           "dbsync",
		Short:         "dbsync replicates table rows between network-isolated databases over TLS",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	command.AddCommand(server.NewCmdServer())
	command.AddCommand(client.NewCmdClient())
	command.AddCommand(newCmdVersion())
	return command
}

func newCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Output version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(version.GetRawInfo())
		},
	}
}

// Run runs the root command.
func Run() {
	command := NewCmd()
	command.SetOut(os.Stdout)
	command.SetErr(os.Stderr)
	if err := command.Execute(); err != nil {
		command.PrintErrln(err)
		os.Exit(1)
	}
}
