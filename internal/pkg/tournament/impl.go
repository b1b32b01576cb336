package tournament

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/do/v2"
	"github.com/vreid/arena/internal/pkg/authority"
	"github.com/vreid/arena/internal/pkg/challenge"
	"github.com/vreid/arena/internal/pkg/common"
	"github.com/vreid/arena/internal/pkg/ledger"
	"github.com/vreid/arena/internal/pkg/notify"
	bolt "go.etcd.io/bbolt"
)

const (
	EventJoined        = "tournament.joined"
	EventMatchResolved = "tournament.match_resolved"

	// SystemActor is recorded for transitions driven by challenge outcomes.
	SystemActor = "system"
)

type TournamentService struct {
	DatabaseService *common.DatabaseService
	Challenges      *challenge.ChallengeService
	Authority       authority.ModeratorAuthority
	Notifications   *notify.NotificationService
	Metrics         *common.MetricsService
	Logger          *slog.Logger
	Now             func() time.Time
}

func NewTournamentService(i do.Injector) (*TournamentService, error) {
	result := &TournamentService{
		DatabaseService: do.MustInvoke[*common.DatabaseService](i),
		Challenges:      do.MustInvoke[*challenge.ChallengeService](i),
		Authority:       do.MustInvoke[authority.ModeratorAuthority](i),
		Notifications:   do.MustInvoke[*notify.NotificationService](i),
		Metrics:         do.MustInvoke[*common.MetricsService](i),
		Logger:          do.MustInvoke[*slog.Logger](i),
	}

	result.Challenges.Observe(result)

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

func (s *TournamentService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}

	return time.Now().UTC()
}

// outcome collects what a committed tournament transaction changed.
type outcome struct {
	tournament *Tournament
	status     Status
	events     []notify.Event
	challenges challenge.Outcome
	// unchanged skips the write, for repeated or stale calls.
	unchanged bool
}

func (o *outcome) add(eventType string, t *Tournament, actor string, payload any) {
	o.events = append(o.events, notify.NewEvent(eventType, t.ID, actor, payload))
}

func (s *TournamentService) publish(ctx context.Context, o outcome, actor string) {
	t := o.tournament

	if t.Status != o.status {
		if s.Metrics != nil {
			s.Metrics.Transition("tournament", string(t.Status))
		}

		o.events = append(o.events, notify.NewEvent("tournament."+string(t.Status), t.ID, actor, *t))
	}

	if s.Logger != nil {
		s.Logger.Info("tournament updated",
			slog.String("tournament_id", t.ID),
			slog.String("from", string(o.status)),
			slog.String("to", string(t.Status)),
			slog.String("actor", actor),
			slog.Int64("version", t.Version),
		)
	}

	s.Notifications.Emit(ctx, o.events...)
	s.Challenges.Publish(ctx, o.challenges)
}

// update loads a tournament, runs fn and saves it in one transaction.
func (s *TournamentService) update(
	ctx context.Context,
	id, actor string,
	expected int64,
	fn func(tx *bolt.Tx, t *Tournament, o *outcome) error) (*Tournament, error) {
	var o outcome

	err := s.DatabaseService.Update(func(tx *bolt.Tx) error {
		t, err := Load(tx, id)
		if err != nil {
			return err
		}

		err = common.CheckVersion(expected, t.Version)
		if err != nil {
			return err
		}

		o = outcome{tournament: t, status: t.Status}

		err = fn(tx, t, &o)
		if err != nil {
			return err
		}

		if o.unchanged {
			return nil
		}

		return Save(tx, t)
	})
	if err != nil {
		return nil, err
	}

	if !o.unchanged {
		s.publish(ctx, o, actor)
	}

	return o.tournament, nil
}

func (s *TournamentService) requireOrganizer(t *Tournament, actor, op string) error {
	if actor == t.HostID || s.Authority.IsModerator(actor) {
		return nil
	}

	return common.Errorf(common.KindInvalidActor, "only the host or a moderator may %s the tournament", op)
}

func (s *TournamentService) Create(ctx context.Context, params CreateParams) (*Tournament, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	t, err := New(id.String(), params, s.now())
	if err != nil {
		return nil, err
	}

	err = s.DatabaseService.Update(func(tx *bolt.Tx) error {
		return Save(tx, t)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, outcome{tournament: t}, params.HostID)

	return t, nil
}

// Join moves the entry fee into the tournament escrow.
func (s *TournamentService) Join(ctx context.Context, id, actor string, expected int64) (*Tournament, error) {
	return s.update(ctx, id, actor, expected, func(tx *bolt.Tx, t *Tournament, o *outcome) error {
		if common.PlatformAccount(actor, s.Challenges.Treasury) {
			return common.Errorf(common.KindInvalidActor, "%s is a platform account", actor)
		}

		err := t.Join(actor, s.now())
		if err != nil {
			return err
		}

		err = ledger.Transfer(tx, actor, EscrowAccount(t.ID), t.Asset, t.EntryFee)
		if err != nil {
			return err
		}

		o.add(EventJoined, t, actor, map[string]any{
			"participant_id": actor,
			"prize_pool":     t.PrizePool,
		})

		return nil
	})
}

func (s *TournamentService) Start(ctx context.Context, id, actor string, expected int64) (*Tournament, error) {
	return s.update(ctx, id, actor, expected, func(tx *bolt.Tx, t *Tournament, o *outcome) error {
		err := s.requireOrganizer(t, actor, "start")
		if err != nil {
			return err
		}

		err = t.Start(actor, s.now())
		if err != nil {
			return err
		}

		return s.instantiate(tx, t, actor, o)
	})
}

// instantiate creates challenges for every ready match. A participant who
// cannot cover the match stake leaves the match ready with LastError set so
// it can be retried; any other failure aborts the transaction.
func (s *TournamentService) instantiate(tx *bolt.Tx, t *Tournament, actor string, o *outcome) error {
	for _, m := range t.Ready() {
		c, err := s.Challenges.CreateTx(tx, challenge.CreateParams{
			CreatorID:   m.SlotA.ParticipantID,
			OpponentID:  m.SlotB.ParticipantID,
			Game:        t.Game,
			Platform:    t.Platform,
			RulesText:   fmt.Sprintf("%s, match %s", t.Title, m.ID),
			StakeAsset:  t.Asset,
			StakeAmount: t.MatchStake,
		}, &challenge.MatchRef{TournamentID: t.ID, MatchID: m.ID})

		if errors.Is(err, common.ErrInsufficientBalance) {
			m.LastError = err.Error()

			if s.Logger != nil {
				s.Logger.Warn("failed to instantiate match",
					slog.String("tournament_id", t.ID),
					slog.String("match_id", m.ID),
					slog.Any("error", err),
				)
			}

			continue
		}

		if err != nil {
			return err
		}

		m.ChallengeID = c.ID
		m.LastError = ""
		m.transition(MatchLive, actor, s.now(), "challenge "+c.ID)

		o.challenges.Add(c, actor)
	}

	return nil
}

// ReportMatchResult advances the bracket once the match challenge is
// Confirmed. The challenge is the source of truth for the winner.
func (s *TournamentService) ReportMatchResult(
	ctx context.Context,
	id, matchID, winnerID, actor string) (*Tournament, error) {
	return s.update(ctx, id, actor, 0, func(tx *bolt.Tx, t *Tournament, o *outcome) error {
		m, err := t.Match(matchID)
		if err != nil {
			return err
		}

		if m.Status != MatchResolved {
			if m.ChallengeID == "" {
				return common.Errorf(common.KindWrongState, "match %s has no challenge", m.ID)
			}

			c, err := challenge.Load(tx, m.ChallengeID)
			if err != nil {
				return err
			}

			if c.Status != challenge.StatusConfirmed {
				return common.Errorf(common.KindWrongState, "challenge %s is %s", c.ID, c.Status)
			}

			if c.WinnerID != winnerID {
				return common.Errorf(common.KindPolicyViolation,
					"challenge %s was won by %s", c.ID, c.WinnerID)
			}
		}

		changed, err := t.Resolve(matchID, winnerID, actor, s.now())
		if err != nil {
			return err
		}

		if !changed {
			o.unchanged = true

			return nil
		}

		o.add(EventMatchResolved, t, actor, *m)

		if t.Status == StatusCompleted {
			return s.payout(tx, t)
		}

		return s.instantiate(tx, t, actor, o)
	})
}

func (s *TournamentService) payout(tx *bolt.Tx, t *Tournament) error {
	for _, p := range t.Placements {
		err := ledger.Transfer(tx, EscrowAccount(t.ID), p.ParticipantID, t.Asset, p.Prize)
		if err != nil {
			return fmt.Errorf("failed to pay place %d: %w", p.Place, err)
		}
	}

	return nil
}

// Cancel voids every open match challenge and refunds all entry fees. Once
// play has started only a moderator may cancel.
func (s *TournamentService) Cancel(ctx context.Context, id, actor string, expected int64) (*Tournament, error) {
	return s.update(ctx, id, actor, expected, func(tx *bolt.Tx, t *Tournament, o *outcome) error {
		err := s.requireOrganizer(t, actor, "cancel")
		if err != nil {
			return err
		}

		if t.Status == StatusInProgress && !s.Authority.IsModerator(actor) {
			return common.Errorf(common.KindInvalidActor, "only a moderator may cancel a tournament in progress")
		}

		var live []string

		for _, round := range t.Rounds {
			for _, m := range round {
				if m.Status == MatchLive {
					live = append(live, m.ChallengeID)
				}
			}
		}

		err = t.Cancel(actor, s.now())
		if err != nil {
			return err
		}

		for _, challengeID := range live {
			c, err := challenge.Load(tx, challengeID)
			if err != nil {
				return err
			}

			if c.Status.Terminal() {
				continue
			}

			err = s.Challenges.VoidTx(tx, c, actor, "tournament "+t.ID+" cancelled")
			if err != nil {
				return err
			}

			o.challenges.Add(c, actor)
		}

		for _, p := range t.Participants {
			err = ledger.Transfer(tx, EscrowAccount(t.ID), p, t.Asset, t.EntryFee)
			if err != nil {
				return fmt.Errorf("failed to refund %s: %w", p, err)
			}
		}

		t.PrizePool = 0

		return nil
	})
}

// RetryInstantiation retries ready matches whose challenge could not be
// created, typically after a participant topped up their balance.
func (s *TournamentService) RetryInstantiation(ctx context.Context, id, actor string, expected int64) (*Tournament, error) {
	return s.update(ctx, id, actor, expected, func(tx *bolt.Tx, t *Tournament, o *outcome) error {
		err := s.requireOrganizer(t, actor, "retry")
		if err != nil {
			return err
		}

		if t.Status != StatusInProgress {
			return t.wrongState("retry")
		}

		return s.instantiate(tx, t, actor, o)
	})
}

// rematch replaces a voided match challenge with a fresh one.
func (s *TournamentService) rematch(ctx context.Context, ref challenge.MatchRef, challengeID string) (*Tournament, error) {
	return s.update(ctx, ref.TournamentID, SystemActor, 0, func(tx *bolt.Tx, t *Tournament, o *outcome) error {
		o.unchanged = true

		if t.Status != StatusInProgress {
			return nil
		}

		m, err := t.Match(ref.MatchID)
		if err != nil {
			return err
		}

		if m.Status != MatchLive || m.ChallengeID != challengeID {
			return nil
		}

		o.unchanged = false

		m.PastChallengeIDs = append(m.PastChallengeIDs, m.ChallengeID)
		m.ChallengeID = ""
		m.transition(MatchReady, SystemActor, s.now(), "rematch after "+challengeID)

		return s.instantiate(tx, t, SystemActor, o)
	})
}

// ChallengeFinished keeps the bracket in step with its match challenges.
func (s *TournamentService) ChallengeFinished(ctx context.Context, c *challenge.Challenge) {
	if c.MatchRef == nil {
		return
	}

	var err error

	switch c.Status {
	case challenge.StatusConfirmed:
		_, err = s.ReportMatchResult(ctx, c.MatchRef.TournamentID, c.MatchRef.MatchID, c.WinnerID, SystemActor)
	case challenge.StatusMutualCancelled, challenge.StatusCancelled:
		_, err = s.rematch(ctx, *c.MatchRef, c.ID)
	default:
		return
	}

	if err != nil && s.Logger != nil {
		s.Logger.Error("failed to apply match challenge outcome",
			slog.String("tournament_id", c.MatchRef.TournamentID),
			slog.String("match_id", c.MatchRef.MatchID),
			slog.String("challenge_id", c.ID),
			slog.Any("error", err),
		)
	}
}

func (s *TournamentService) Get(id string) (*Tournament, error) {
	var result *Tournament

	err := s.DatabaseService.View(func(tx *bolt.Tx) error {
		var err error

		result, err = Load(tx, id)

		return err
	})

	return result, err
}

// List returns tournaments, newest first, optionally filtered by status.
func (s *TournamentService) List(status Status) ([]*Tournament, error) {
	result := []*Tournament{}

	err := s.DatabaseService.View(func(tx *bolt.Tx) error {
		return common.ForEachRecord(tx, common.TournamentsBucket, func(t *Tournament) error {
			if status == "" || t.Status == status {
				result = append(result, t)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(a, b int) bool {
		return result[a].CreatedAt.After(result[b].CreatedAt)
	})

	return result, nil
}

func Load(tx *bolt.Tx, id string) (*Tournament, error) {
	return common.GetRecord[Tournament](tx, common.TournamentsBucket, id)
}

func Save(tx *bolt.Tx, t *Tournament) error {
	return common.PutRecord(tx, common.TournamentsBucket, t)
}
