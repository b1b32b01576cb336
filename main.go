package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/samber/do/v2"
	"github.com/vreid/arena/internal/pkg/authority"
	"github.com/vreid/arena/internal/pkg/challenge"
	"github.com/vreid/arena/internal/pkg/common"
	"github.com/vreid/arena/internal/pkg/dispute"
	"github.com/vreid/arena/internal/pkg/evidence"
	"github.com/vreid/arena/internal/pkg/fees"
	"github.com/vreid/arena/internal/pkg/ledger"
	"github.com/vreid/arena/internal/pkg/notify"
	"github.com/vreid/arena/internal/pkg/scorer"
	"github.com/vreid/arena/internal/pkg/tournament"

	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

type ArenaService struct {
	Logger      *slog.Logger         `do:""`
	EchoService *common.EchoService  `do:""`
	PubSub      *gochannel.GoChannel `do:""`

	NotificationService *notify.NotificationService `do:""`

	LedgerService     *ledger.LedgerService         `do:""`
	ChallengeService  *challenge.ChallengeService   `do:""`
	EvidenceService   *evidence.EvidenceService     `do:""`
	DisputeService    *dispute.DisputeService       `do:""`
	TournamentService *tournament.TournamentService `do:""`
	ScorerService     *scorer.ScorerService         `do:""`
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	i := do.New()

	do.ProvideNamedValue(i, "port", cmd.Int("port"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))
	do.ProvideNamedValue(i, "evidence-dir", cmd.String("evidence-dir"))
	do.ProvideNamedValue(i, "log-level", cmd.String("log-level"))

	do.ProvideNamedValue(i, "fee-basis-points", cmd.Int64("fee-basis-points"))
	do.ProvideNamedValue(i, "fee-minimum", cmd.Int64("fee-minimum"))
	do.ProvideNamedValue(i, "platform-account", cmd.String("platform-account"))
	do.ProvideNamedValue(i, "moderators", cmd.StringSlice("moderators"))

	do.ProvideNamedValue(i, "valkey-address", cmd.String("valkey-address"))
	do.ProvideNamedValue(i, "webhook-url", cmd.String("webhook-url"))

	do.Provide(i, common.NewLogger)
	do.Provide(i, common.NewMetricsService)
	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewEchoService)

	do.Provide(i, notify.NewPubSub)
	do.Provide(i, notify.NewNotificationService)

	do.Provide(i, authority.NewAuthorityService)
	do.Provide(i, fees.NewFeeService)
	do.Provide(i, ledger.NewLedgerService)
	do.Provide(i, challenge.NewChallengeService)
	do.Provide(i, evidence.NewEvidenceService)
	do.Provide(i, dispute.NewDisputeService)
	do.Provide(i, tournament.NewTournamentService)
	do.Provide(i, scorer.NewScorerService)

	do.Provide(i, do.InvokeStruct[ArenaService])

	arenaService, err := do.Invoke[ArenaService](i)
	if err != nil {
		return fmt.Errorf("failed to create arena service: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = arenaService.ScorerService.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start scorer: %w", err)
	}

	err = arenaService.NotificationService.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start notification forwarding: %w", err)
	}

	go func() {
		drainErr := notify.Drain(ctx, arenaService.PubSub, arenaService.Logger)
		if drainErr != nil {
			arenaService.Logger.Error("event drain stopped", slog.Any("error", drainErr))
		}
	}()

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- arenaService.EchoService.Start()
	}()

	select {
	case err = <-serverErr:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	report := i.ShutdownWithContext(shutdownCtx)
	if report != nil && !report.Succeed {
		arenaService.Logger.Error("shutdown incomplete", slog.String("report", report.Error()))
	}

	return err
}

func main() {
	//nolint:exhaustruct
	cmd := &cli.Command{
		Name: "arena",
		Commands: []*cli.Command{
			{
				Name: "server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Value:   3000, //nolint:mnd
						Sources: cli.EnvVars("ARENA_PORT"),
					},
					&cli.StringFlag{
						Name:    "data-dir",
						Value:   "./arena/data",
						Sources: cli.EnvVars("ARENA_DATA_DIR"),
					},
					&cli.StringFlag{
						Name:    "evidence-dir",
						Value:   "./arena/evidence",
						Sources: cli.EnvVars("ARENA_EVIDENCE_DIR"),
					},
					&cli.StringFlag{
						Name:    "log-level",
						Value:   "info",
						Sources: cli.EnvVars("ARENA_LOG_LEVEL"),
					},
					&cli.Int64Flag{
						Name:    "fee-basis-points",
						Value:   500, //nolint:mnd
						Sources: cli.EnvVars("ARENA_FEE_BASIS_POINTS"),
					},
					&cli.Int64Flag{
						Name:    "fee-minimum",
						Value:   0,
						Sources: cli.EnvVars("ARENA_FEE_MINIMUM"),
					},
					&cli.StringFlag{
						Name:    "platform-account",
						Value:   "platform",
						Sources: cli.EnvVars("ARENA_PLATFORM_ACCOUNT"),
					},
					&cli.StringSliceFlag{
						Name:    "moderators",
						Sources: cli.EnvVars("ARENA_MODERATORS"),
					},
					&cli.StringFlag{
						Name:    "valkey-address",
						Value:   "",
						Sources: cli.EnvVars("ARENA_VALKEY_ADDRESS"),
					},
					&cli.StringFlag{
						Name:    "webhook-url",
						Value:   "",
						Sources: cli.EnvVars("ARENA_WEBHOOK_URL"),
					},
				},
				Action: runServer,
			},
		},
		DefaultCommand: "server",
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
