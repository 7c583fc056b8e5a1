package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkeye/televisit/internal/adapters/channel"
	"github.com/dkeye/televisit/internal/adapters/media"
	"github.com/dkeye/televisit/internal/adapters/rtc"
	"github.com/dkeye/televisit/internal/adapters/store"
	"github.com/dkeye/televisit/internal/app/session"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
)

func demoCmd(g *globalFlags) *cobra.Command {
	var (
		roomID string
		hold   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a provider and a patient in one process with synthetic media",
		RunE: func(cmd *cobra.Command, args []string) error {
			room := domain.RoomID(roomID)
			if err := room.Validate(); err != nil {
				return err
			}
			return runDemo(g, room, hold)
		},
	}

	cmd.Flags().StringVar(&roomID, "room", "demo-visit", "Visit room id")
	cmd.Flags().DurationVar(&hold, "hold", 5*time.Second, "How long to stay connected before the provider hangs up")

	return cmd
}

func runDemo(g *globalFlags, room domain.RoomID, hold time.Duration) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	m := serveMetrics(cfg.Metrics.Addr)

	rc := rtc.FromConfig(cfg.Call)
	rc.IncludeLoopback = true
	peers, err := rtc.NewFactory(rc, m)
	if err != nil {
		return err
	}
	bus := channel.NewBus()

	party := func(user domain.UserID, role domain.Role) *session.Controller {
		sc := domain.SessionContext{Room: room, Self: domain.Participant{ID: user, Role: role}}
		return session.New(sc, session.Deps{
			Channel: bus,
			Media:   media.NewManager(media.NewSyntheticSource()),
			Peers:   peers,
			Records: store.LogSink{},
			Metrics: m,
		},
			session.WithTimeout(cfg.Call.ConnectTimeout),
			printTransitions(fmt.Sprintf("[%s] ", role)),
		)
	}
	provider := party("provider-1", domain.RoleProvider)
	patient := party("patient-1", domain.RolePatient)

	ctx := context.Background()
	if err := provider.Start(ctx); err != nil {
		return err
	}
	defer provider.End()
	if err := patient.Start(ctx); err != nil {
		return err
	}
	defer patient.End()

	deadline := time.After(cfg.Call.ConnectTimeout + time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-deadline:
			break wait
		case <-ticker.C:
			if provider.State().Terminal() || patient.State().Terminal() {
				break wait
			}
			if provider.State() == core.StateConnected && patient.State() == core.StateConnected {
				fmt.Printf("both connected, holding for %s\n", hold)
				time.Sleep(hold)
				break wait
			}
		}
	}

	provider.End()
	select {
	case <-patient.Done():
	case <-time.After(5 * time.Second):
		patient.End()
	}

	for _, c := range []struct {
		name string
		ctl  *session.Controller
	}{{"provider", provider}, {"patient", patient}} {
		reason := "ok"
		if err := c.ctl.Err(); err != nil {
			reason = core.Reason(err)
		}
		fmt.Printf("%s: %s (%s)\n", c.name, c.ctl.State(), reason)
	}
	if err := provider.Err(); err != nil {
		return fmt.Errorf("provider: %s", core.Reason(err))
	}
	return nil
}
