package cmd

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"worker-walkthrough/config"
	"worker-walkthrough/constant"
	"worker-walkthrough/dto"
	server2 "worker-walkthrough/server"
	"worker-walkthrough/service"
)

// classify and generate run one project in the foreground, bypassing the queue.

func classify(config *config.Config) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "classify the images of one project",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(projectID)
			if err != nil {
				return err
			}
			ctx := server2.SetupLogger(config)
			app := server2.NewApp(ctx, config)
			defer app.Close(ctx)

			result, err := app.Classification.Classify(ctx, id, func(p dto.ClassificationProgress) {
				zerolog.Ctx(ctx).Info().Str("phase", string(p.Phase)).Int("progress", p.Progress).Send()
			})
			if err != nil {
				return err
			}
			for _, g := range result.Groups {
				zerolog.Ctx(ctx).Info().Str("room", g.RoomID()).Int("images", len(g.Images)).Float64("confidence", g.AverageConfidence).Send()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func generate(config *config.Config) *cobra.Command {
	var (
		projectID   string
		directions  string
		aspectRatio string
		logoURL     string
		logoPos     string
		subtitles   string
		noFade      bool
		retryFailed bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "generate the walkthrough video of one project",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(projectID)
			if err != nil {
				return err
			}
			ctx := server2.SetupLogger(config)
			app := server2.NewApp(ctx, config)
			defer app.Close(ctx)

			req := service.GenerateRequest{ProjectID: id, Directions: directions, AspectRatio: aspectRatio}
			if cmd.Flags().Changed("no-transitions") {
				transitions := !noFade
				req.Transitions = &transitions
			}
			if logoURL != "" {
				req.Logo = &dto.Logo{URL: logoURL, Position: constant.LogoPosition(logoPos)}
			}
			if subtitles != "" {
				req.Subtitles = &dto.Subtitle{Enabled: true, Text: subtitles}
			}

			run := app.Generation.Generate
			if retryFailed {
				run = app.Generation.RetryFailedRooms
			}
			result, err := run(ctx, req)
			if err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().
				Str("video_url", result.FinalVideo.VideoURL).
				Strs("completed_rooms", result.CompletedRooms).
				Strs("failed_rooms", result.FailedRooms).
				Msg("walkthrough ready")
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&directions, "directions", "", "extra camera directions for every room")
	cmd.Flags().StringVar(&aspectRatio, "aspect-ratio", "", "9:16, 16:9 or 1:1")
	cmd.Flags().StringVar(&logoURL, "logo", "", "stored logo URL")
	cmd.Flags().StringVar(&logoPos, "logo-position", string(constant.LogoBottomRight), "logo corner")
	cmd.Flags().StringVar(&subtitles, "subtitles", "", "subtitle text to burn in")
	cmd.Flags().BoolVar(&noFade, "no-transitions", false, "join clips without crossfades")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "regenerate only failed rooms")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
