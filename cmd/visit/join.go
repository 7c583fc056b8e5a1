package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/televisit/internal/adapters/channel"
	"github.com/dkeye/televisit/internal/adapters/media"
	"github.com/dkeye/televisit/internal/adapters/rtc"
	"github.com/dkeye/televisit/internal/adapters/store"
	"github.com/dkeye/televisit/internal/app/session"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
)

func joinCmd(g *globalFlags) *cobra.Command {
	var (
		roomID    string
		userID    string
		role      string
		synthetic bool
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a visit and stay until Ctrl-C or the other side hangs up",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			sc := domain.SessionContext{
				Room: domain.RoomID(roomID),
				Self: domain.Participant{ID: domain.UserID(userID), Role: r},
			}
			if err := sc.Validate(); err != nil {
				return err
			}
			return runJoin(cmd.Context(), g, sc, synthetic)
		},
	}

	cmd.Flags().StringVar(&roomID, "room", "", "Visit room id")
	cmd.Flags().StringVar(&userID, "user", "", "Your participant id")
	cmd.Flags().StringVar(&role, "role", "", "provider or patient; the provider sends the offer")
	cmd.Flags().BoolVar(&synthetic, "synthetic-media", false, "Send test-pattern tracks instead of opening devices")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func runJoin(parent context.Context, g *globalFlags, sc domain.SessionContext, synthetic bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	m := serveMetrics(cfg.Metrics.Addr)

	ch, err := channel.Open(ctx, cfg.Signal, sc.Self.ID)
	if err != nil {
		return err
	}
	defer ch.Close()

	var src media.Source = media.NewSyntheticSource()
	if !synthetic {
		capture, err := media.NewCaptureSource()
		if err != nil {
			return err
		}
		src = capture
	}

	peers, err := rtc.NewFactory(rtc.FromConfig(cfg.Call), m)
	if err != nil {
		return err
	}

	sink, err := store.Open(cfg.Records)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctl := session.New(sc, session.Deps{
		Channel: ch,
		Media:   media.NewManager(src),
		Peers:   peers,
		Records: sink,
		Metrics: m,
	},
		session.WithTimeout(cfg.Call.ConnectTimeout),
		session.WithRecordTimeout(cfg.Call.RecordTimeout),
		printTransitions(""),
	)
	if err := ctl.Start(ctx); err != nil {
		return err
	}
	defer ctl.End()

	select {
	case <-ctx.Done():
		log.Info().Msg("interrupted, ending visit")
		ctl.End()
	case <-ctl.Done():
	}

	if err := ctl.Err(); err != nil {
		return errors.New(core.Reason(err))
	}
	return nil
}
