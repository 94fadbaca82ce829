package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/cocaine-go/cocained/internal/rpc"
	"github.com/spf13/cobra"
)

var ctlAddr string

// BuildCtlCLI returns the cocainectl root command: start-app, pause-app,
// list, run against a node's RPC surface. This is the teacher's
// enqueue/status commands' role, generalized to the registry operations
// this module exposes (SPEC_FULL.md §10).
func BuildCtlCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "cocainectl",
		Short:   "cocainectl: control a running cocained node",
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVar(&ctlAddr, "addr", "localhost:50051", "cocained node address")
	rootCmd.AddCommand(buildStartAppCommand())
	rootCmd.AddCommand(buildPauseAppCommand())
	rootCmd.AddCommand(buildListCommand())
	return rootCmd
}

func buildStartAppCommand() *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "start-app <app>",
		Short: "Start an app from its manifest and profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNodeClient(func(client rpc.NodeServiceClient) error {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				resp, err := client.StartApp(ctx, &rpc.StartAppRequest{App: args[0], Profile: profile})
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("node rejected start_app: %s", resp.Error)
				}
				fmt.Printf("started %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "default", "profile name")
	return cmd
}

func buildPauseAppCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause-app <app>",
		Short: "Stop a running app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNodeClient(func(client rpc.NodeServiceClient) error {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				resp, err := client.PauseApp(ctx, &rpc.PauseAppRequest{App: args[0]})
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("node rejected pause_app: %s", resp.Error)
				}
				fmt.Printf("paused %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func buildListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List running apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNodeClient(func(client rpc.NodeServiceClient) error {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				resp, err := client.List(ctx, &rpc.ListRequest{})
				if err != nil {
					return err
				}
				if len(resp.Apps) == 0 {
					fmt.Println("no apps running")
					return nil
				}
				for _, app := range resp.Apps {
					fmt.Printf("%-20s pool=%-4d queue=%d\n", app.App, app.PoolSize, app.QueueDepth)
				}
				return nil
			})
		},
	}
	return cmd
}

func withNodeClient(fn func(rpc.NodeServiceClient) error) error {
	conn, err := dialNode(ctlAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", ctlAddr, err)
	}
	defer conn.Close()
	return fn(rpc.NewNodeServiceClient(conn))
}
