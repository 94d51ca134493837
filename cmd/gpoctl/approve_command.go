package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"genflow/internal/segments"
)

func newApproveCommand(ctx *commandContext) *cobra.Command {
	var who userFlags
	cmd := &cobra.Command{
		Use:   "approve <instance-id> <segment-index>",
		Short: "Release the clip of one segment for generation without charging",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil || index < 0 {
				return fmt.Errorf("segment index must be a non-negative integer")
			}
			userID, err := ctx.resolveUser(cmd.Context(), who.userID, who.email)
			if err != nil {
				return err
			}
			sess, err := ctx.session(cmd.Context())
			if err != nil {
				return err
			}
			seg, err := sess.services.Segments.ApproveVideo(cmd.Context(), segments.ApproveRequest{
				UserID:     userID,
				InstanceID: args[0],
				Index:      index,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Segment %d of %s approved for video (%s)\n", seg.SegmentIndex, args[0], seg.Status)
			return nil
		},
	}
	who.bind(cmd)
	return cmd
}
