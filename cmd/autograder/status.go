package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/joseph-ayodele/autograder/internal/server"
)

func newStatusCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the health service of a running grader",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := v.GetString("addr")
			if addr == "" {
				cfg, err := loadConfig(v)
				if err != nil {
					return err
				}
				addr = cfg.Server.GRPCAddr
			}
			if addr == "" {
				return fmt.Errorf("no --addr given and server.grpc_addr is empty")
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()
			client := healthpb.NewHealthClient(conn)

			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
			defer cancel()
			marshal := protojson.MarshalOptions{UseProtoNames: true}
			for _, svc := range []string{"", server.RunService} {
				resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
				if err != nil {
					return fmt.Errorf("health check %q: %w", svc, err)
				}
				b, err := marshal.Marshal(resp)
				if err != nil {
					return err
				}
				name := svc
				if name == "" {
					name = "process"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, b)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "gRPC address (default server.grpc_addr)")
	cmd.Flags().Duration("timeout", 3*time.Second, "Request timeout")
	return cmd
}
