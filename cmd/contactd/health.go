package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oy3o/contactd/o11y"
)

const probeScope = "contactd.HealthProbe"

func newHealthCmd(root *rootOptions) *cobra.Command {
	var (
		httpURL    string
		grpcTarget string
		timeout    time.Duration
		traced     bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the readiness endpoints of a running contactd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			if httpURL == "" {
				httpURL = "http://" + localAddr(cfg.HTTP.Addr)
			}
			if grpcTarget == "" && cfg.GRPC.Addr != "" {
				grpcTarget = localAddr(cfg.GRPC.Addr)
			}

			// Probe spans go to the console only, and only on request.
			tel := cfg.Telemetry
			tel.Enabled = traced
			tel.Exporter = o11y.ExporterConfig{Console: o11y.ConsoleExporterConfig{Enabled: true}}
			tel.Log.EnableFile = false
			tel.Metric.Enabled = false
			provider, err := o11y.New(cmd.Context(), tel)
			if err != nil {
				return err
			}
			defer provider.Shutdown(context.Background())
			s := provider.Scope(probeScope)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			status, err := probeHTTP(ctx, s, o11y.NewHTTPClient(s, nil), httpURL)
			fmt.Fprintf(out, "http %s: %s\n", httpURL, describe(status, err))
			failed := err != nil

			if grpcTarget != "" {
				status, err := probeGRPC(ctx, s, grpcTarget)
				fmt.Fprintf(out, "grpc %s: %s\n", grpcTarget, describe(status, err))
				failed = failed || err != nil
			}
			if failed {
				return fmt.Errorf("contactd is not ready")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&httpURL, "http-url", "", "base URL of the REST API (defaults to the configured address)")
	f.StringVar(&grpcTarget, "grpc-target", "", "target of the gRPC health service (defaults to the configured address)")
	f.DurationVar(&timeout, "timeout", 5*time.Second, "overall probe timeout")
	f.BoolVar(&traced, "trace", false, "print the probe spans to the console")
	return cmd
}

func describe(status string, err error) string {
	if err != nil {
		return "FAIL (" + err.Error() + ")"
	}
	return status
}

// localAddr turns a listen address such as ":8080" into a dialable one.
func localAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// probeHTTP asks /api/health/ready of the API at baseURL.
func probeHTTP(ctx context.Context, s *o11y.Scope, client *http.Client, baseURL string) (string, error) {
	var status string
	err := s.Run(ctx, "HealthProbe.HTTP", func(ctx context.Context, st o11y.State) error {
		url := baseURL + "/api/health/ready"
		st.SetAttributes(attribute.String("url.full", url))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		st.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		status = resp.Status
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		return nil
	}, trace.WithSpanKind(trace.SpanKindInternal))
	return status, err
}

// probeGRPC calls grpc.health.v1.Health/Check on target.
func probeGRPC(ctx context.Context, s *o11y.Scope, target string) (string, error) {
	var status string
	err := s.Run(ctx, "HealthProbe.GRPC", func(ctx context.Context, st o11y.State) error {
		st.SetAttributes(attribute.String("rpc.target", target))

		opts := append(o11y.GRPCClientOptions(s), grpc.WithTransportCredentials(insecure.NewCredentials()))
		conn, err := grpc.NewClient(target, opts...)
		if err != nil {
			return err
		}
		defer conn.Close()

		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return err
		}
		status = resp.GetStatus().String()
		st.SetAttributes(attribute.String("health.status", status))
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("service is %s", status)
		}
		return nil
	})
	return status, err
}
