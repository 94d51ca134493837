package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"genflow/internal/domain"
	"genflow/internal/segments"
)

func newRegenerateCommand(ctx *commandContext) *cobra.Command {
	var who userFlags
	var photo, video bool
	var frame, prompt string
	cmd := &cobra.Command{
		Use:   "regenerate <instance-id> <segment-index>",
		Short: "Regenerate the still and/or clip of one segment on behalf of its owner",
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
			seg, err := sess.services.Segments.RegenerateSegment(cmd.Context(), segments.RegenerateRequest{
				UserID:     userID,
				InstanceID: args[0],
				Index:      index,
				Options: segments.RegenerateOptions{
					RegeneratePhoto: photo,
					Video:           video,
					FrameKind:       domain.FrameKind(frame),
					Prompt:          prompt,
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Segment %d of %s is %s\n", seg.SegmentIndex, args[0], seg.Status)
			return nil
		},
	}
	who.bind(cmd)
	cmd.Flags().BoolVar(&photo, "photo", false, "Regenerate the still")
	cmd.Flags().BoolVar(&video, "video", false, "Regenerate the clip")
	cmd.Flags().StringVar(&frame, "frame", string(domain.FrameFirst), "Still to regenerate: first or closing")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Replacement scene description")
	return cmd
}
