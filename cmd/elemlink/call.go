package main

import (
	"github.com/spf13/cobra"
	"github.com/uasalt/elemlink/client"
	"github.com/uasalt/elemlink/internal/cmdutil"
)

// call sends one request and prints the response as JSON.
//
//	elemlink call --json '{"type":"social/search","query":"ada"}'
//	echo '{"type":"authorization/connect"}' | elemlink call
func callCmd(a *app) *cobra.Command {
	var (
		raw    string
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Send one request and print the response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := cmdutil.ReadRequest(raw, a.stdin)
			if err != nil {
				return err
			}
			if _, ok := req[client.FieldType]; !ok {
				return cmdutil.Usagef("request is missing %q", client.FieldType)
			}

			sess, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			resp, err := sess.Send(commandContext(cmd), client.Message(req))
			if err != nil {
				return err
			}
			if err := cmdutil.WriteJSON(a.stdout, map[string]any(resp), pretty); err != nil {
				return err
			}
			if rerr := resp.Err(); rerr != nil {
				return rerr
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&raw, "json", "", "request body as a JSON object (default: read stdin)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	return cmd
}
