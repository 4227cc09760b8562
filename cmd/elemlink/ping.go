package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/uasalt/elemlink/client"
	"github.com/uasalt/elemlink/elerrors"
	"github.com/uasalt/elemlink/internal/cmdutil"
	"github.com/uasalt/elemlink/internal/contextutil"
)

func pingCmd(a *app) *cobra.Command {
	var (
		count    int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send ping requests and report round-trip latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return cmdutil.Usagef("--count must be > 0")
			}
			sess, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := commandContext(cmd)
			var failed int
			var total time.Duration
			for i := 0; i < count; i++ {
				if i > 0 && !contextutil.Sleep(ctx, interval) {
					return ctx.Err()
				}
				start := time.Now()
				resp, err := sess.Send(ctx, client.Message{client.FieldType: "ping"})
				rtt := time.Since(start)
				if err != nil && !elerrors.IsRetryable(err) {
					return err
				}
				if err == nil {
					err = resp.Err()
				}
				if err != nil {
					failed++
					fmt.Fprintf(a.stdout, "ping %d: %v\n", i+1, err)
					continue
				}
				total += rtt
				fmt.Fprintf(a.stdout, "ping %d: ray_id=%s time=%s\n", i+1, resp.RayID(), rtt.Round(time.Microsecond))
			}
			ok := count - failed
			if ok > 0 {
				fmt.Fprintf(a.stdout, "%d/%d ok, avg %s\n", ok, count, (total / time.Duration(ok)).Round(time.Microsecond))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pings failed", failed, count)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of pings")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "pause between pings")
	return cmd
}
