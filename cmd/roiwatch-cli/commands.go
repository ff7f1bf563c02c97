package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"roiwatch/internal/grpcapi"
)

const (
	flagAddr    = "addr"
	flagTimeout = "timeout"
)

// configFlags are the detection config fields settable with "config set".
var configFlags = []string{"threshold", "min_area", "blur_size", "rain_area_threshold"}

// dialer opens a connection to addr and returns it with its close function.
type dialer func(addr string) (grpc.ClientConnInterface, func() error, error)

func dialControl(addr string) (grpc.ClientConnInterface, func() error, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, conn.Close, nil
}

func newApp(dial dialer) *cli.App {
	// withClient runs fn with a Control client and prints its result as JSON.
	withClient := func(fn func(ctx context.Context, c *cli.Context, client *grpcapi.Client) (map[string]any, error)) cli.ActionFunc {
		return func(c *cli.Context) error {
			conn, closeConn, err := dial(c.String(flagAddr))
			if err != nil {
				return err
			}
			defer closeConn()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration(flagTimeout))
			defer cancel()

			out, err := fn(ctx, c, grpcapi.NewClient(conn))
			if err != nil {
				if st, ok := status.FromError(err); ok {
					return fmt.Errorf("%s: %s", st.Code(), st.Message())
				}
				return err
			}
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
	}

	intArg := func(c *cli.Context, i int, name string) (int, error) {
		raw := c.Args().Get(i)
		if raw == "" {
			return 0, fmt.Errorf("missing argument %s", name)
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("argument %s: %q is not an integer", name, raw)
		}
		return n, nil
	}

	setFlags := make([]cli.Flag, 0, len(configFlags))
	for _, name := range configFlags {
		setFlags = append(setFlags, &cli.IntFlag{Name: name, Usage: "new " + name + " value"})
	}

	return &cli.App{
		Name:  "roiwatch-cli",
		Usage: "control a running roiwatch service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagAddr,
				Aliases: []string{"a"},
				Value:   "localhost:9090",
				EnvVars: []string{"ROIWATCH_GRPC_TARGET"},
				Usage:   "gRPC address of the service",
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Value: 10 * time.Second,
				Usage: "timeout for each call",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "print the latest detection statistics",
				Action: withClient(func(ctx context.Context, c *cli.Context, client *grpcapi.Client) (map[string]any, error) {
					return client.GetStats(ctx)
				}),
			},
			{
				Name:  "rois",
				Usage: "manage regions of interest",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list ROIs",
						Action: withClient(func(ctx context.Context, c *cli.Context, client *grpcapi.Client) (map[string]any, error) {
							return client.ListROIs(ctx)
						}),
					},
					{
						Name:      "add",
						Usage:     "add a ROI",
						ArgsUsage: "X1 Y1 X2 Y2",
						Action: withClient(func(ctx context.Context, c *cli.Context, client *grpcapi.Client) (map[string]any, error) {
							var coords [4]int
							for i, name := range []string{"X1", "Y1", "X2", "Y2"} {
								n, err := intArg(c, i, name)
								if err != nil {
									return nil, err
								}
								coords[i] = n
							}
							return client.AddROI(ctx, coords[0], coords[1], coords[2], coords[3])
						}),
					},
					{
						Name:      "delete",
						Usage:     "delete a ROI",
						ArgsUsage: "ID",
						Action: withClient(func(ctx context.Context, c *cli.Context, client *grpcapi.Client) (map[string]any, error) {
							id, err := intArg(c, 0, "ID")
							if err != nil {
								return nil, err
							}
							return client.DeleteROI(ctx, id)
						}),
					},
					{
						Name:  "clear",
						Usage: "delete every ROI",
						Action: withClient(func(ctx context.Context, c *cli.Context, client *grpcapi.Client) (map[string]any, error) {
							return client.ClearROIs(ctx)
						}),
					},
					{
						Name:  "save",
						Usage: "write the ROIs to the ROI file",
						Action: withClient(func(ctx context.Context, c *cli.Context, client *grpcapi.Client) (map[string]any, error) {
							return client.SaveROIs(ctx)
						}),
					},
					{
						Name:  "load",
						Usage: "replace the ROIs with the ROI file contents",
						Action: withClient(func(ctx context.Context, c *cli.Context, client *grpcapi.Client) (map[string]any, error) {
							return client.LoadROIs(ctx)
						}),
					},
				},
			},
			{
				Name:  "config",
				Usage: "read or change detection parameters",
				Subcommands: []*cli.Command{
					{
						Name:  "get",
						Usage: "print the detection config",
						Action: withClient(func(ctx context.Context, c *cli.Context, client *grpcapi.Client) (map[string]any, error) {
							return client.GetConfig(ctx)
						}),
					},
					{
						Name:  "set",
						Usage: "change detection parameters; unset flags keep their value",
						Flags: setFlags,
						Action: withClient(func(ctx context.Context, c *cli.Context, client *grpcapi.Client) (map[string]any, error) {
							record := map[string]any{}
							for _, name := range configFlags {
								if c.IsSet(name) {
									record[name] = c.Int(name)
								}
							}
							if len(record) == 0 {
								return nil, errors.New("nothing to set")
							}
							return client.UpdateConfig(ctx, record)
						}),
					},
				},
			},
		},
	}
}
