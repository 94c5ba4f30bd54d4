package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"DefiFlow/sdk/go/defiflow"
)

func newStatusCommand() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "查询运行中守护进程的执行状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := defiflow.NewClient(server, nil)
			if err != nil {
				return err
			}
			state, err := client.State(cmd.Context())
			if err != nil {
				return err
			}
			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			return out.Encode(state)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8080", "守护进程地址")
	return cmd
}
