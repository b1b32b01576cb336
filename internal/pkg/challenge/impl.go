package challenge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/do/v2"
	"github.com/vreid/arena/internal/pkg/common"
	"github.com/vreid/arena/internal/pkg/fees"
	"github.com/vreid/arena/internal/pkg/ledger"
	"github.com/vreid/arena/internal/pkg/notify"
	bolt "go.etcd.io/bbolt"
)

type FeeSource interface {
	Current() fees.Schedule
}

// Observer is told about bracket challenges that reached a terminal status,
// after the transition has been committed.
type Observer interface {
	ChallengeFinished(ctx context.Context, c *Challenge)
}

// Outcome is what a committed transaction changed.
type Outcome struct {
	Challenges []*Challenge
	Events     []notify.Event
}

func (o *Outcome) Add(c *Challenge, actor string) {
	o.Challenges = append(o.Challenges, c)
	o.Events = append(o.Events, notify.NewEvent("challenge."+string(c.Status), c.ID, actor, *c))
}

func (o *Outcome) Merge(other Outcome) {
	o.Challenges = append(o.Challenges, other.Challenges...)
	o.Events = append(o.Events, other.Events...)
}

type ChallengeService struct {
	DatabaseService *common.DatabaseService
	Fees            FeeSource
	Notifications   *notify.NotificationService
	Metrics         *common.MetricsService
	Logger          *slog.Logger

	// Treasury receives platform fees.
	Treasury string
	Now      func() time.Time

	mu        sync.RWMutex
	observers []Observer
}

func NewChallengeService(i do.Injector) (*ChallengeService, error) {
	result := &ChallengeService{
		DatabaseService: do.MustInvoke[*common.DatabaseService](i),
		Fees:            do.MustInvoke[*fees.FeeService](i),
		Notifications:   do.MustInvoke[*notify.NotificationService](i),
		Metrics:         do.MustInvoke[*common.MetricsService](i),
		Logger:          do.MustInvoke[*slog.Logger](i),
		Treasury:        do.MustInvokeNamed[string](i, "platform-account"),
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

func (s *ChallengeService) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = append(s.observers, o)
}

func (s *ChallengeService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}

	return time.Now().UTC()
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}

	return id.String(), nil
}

// CreateTx creates a challenge and reserves the creator's stake and fee share
// inside tx. Bracket challenges (matchRef set) may carry a zero stake.
func (s *ChallengeService) CreateTx(tx *bolt.Tx, params CreateParams, matchRef *MatchRef) (*Challenge, error) {
	for _, party := range []string{params.CreatorID, params.OpponentID} {
		if common.PlatformAccount(party, s.Treasury) {
			return nil, common.Errorf(common.KindInvalidActor, "%s is a platform account", party)
		}
	}

	if params.StakeAmount < 0 || (params.StakeAmount == 0 && matchRef == nil) {
		return nil, common.Errorf(common.KindInvalidArgument, "stake amount must be positive")
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}

	c, err := New(id, params, s.now())
	if err != nil {
		return nil, err
	}

	schedule := s.Fees.Current()

	quote, err := fees.Calculate(params.StakeAmount, schedule)
	if err != nil {
		return nil, err
	}

	c.FeeSchedule = schedule
	c.Quote = quote
	c.FeeAmount = quote.Fee
	c.MatchRef = matchRef

	err = ledger.Reserve(tx, HoldID(c.ID, c.CreatorID), c.CreatorID, c.StakeAsset, quote.CreatorHold())
	if err != nil {
		return nil, err
	}

	err = Save(tx, c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (s *ChallengeService) AcceptTx(tx *bolt.Tx, c *Challenge, actor string) error {
	if common.PlatformAccount(actor, s.Treasury) {
		return common.Errorf(common.KindInvalidActor, "%s is a platform account", actor)
	}

	err := c.Accept(actor, s.now())
	if err != nil {
		return err
	}

	return ledger.Reserve(tx, HoldID(c.ID, c.OpponentID), c.OpponentID, c.StakeAsset, c.Quote.OpponentHold())
}

// SettleTx pays out a challenge that just became Confirmed. Each side moves
// its stake into the pool, its fee share going to the treasury; the rest of
// the pool goes to the winner and the reserved fee shares are released.
func (s *ChallengeService) SettleTx(tx *bolt.Tx, c *Challenge) error {
	if c.Status != StatusConfirmed || c.WinnerID == "" {
		return fmt.Errorf("challenge %s is not ready for settlement", c.ID)
	}

	parties := []struct {
		id    string
		share int64
	}{
		{c.CreatorID, c.Quote.CreatorShare},
		{c.OpponentID, c.Quote.OpponentShare},
	}

	for _, party := range parties {
		holdID := HoldID(c.ID, party.id)

		err := ledger.Settle(tx, holdID, c.WinnerID, c.StakeAmount-party.share)
		if err != nil {
			return fmt.Errorf("failed to settle pool from %s: %w", party.id, err)
		}

		err = ledger.Settle(tx, holdID, s.Treasury, party.share)
		if err != nil {
			return fmt.Errorf("failed to settle fee from %s: %w", party.id, err)
		}

		err = ledger.Release(tx, holdID)
		if err != nil {
			return err
		}
	}

	return nil
}

// RefundTx releases every hold of the challenge without charging a fee.
func (s *ChallengeService) RefundTx(tx *bolt.Tx, c *Challenge) error {
	for _, party := range []string{c.CreatorID, c.OpponentID} {
		if party == "" {
			continue
		}

		err := ledger.Release(tx, HoldID(c.ID, party))
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *ChallengeService) FreezeTx(tx *bolt.Tx, c *Challenge) error {
	for _, party := range []string{c.CreatorID, c.OpponentID} {
		err := ledger.Freeze(tx, HoldID(c.ID, party))
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *ChallengeService) ThawTx(tx *bolt.Tx, c *Challenge) error {
	for _, party := range []string{c.CreatorID, c.OpponentID} {
		err := ledger.Thaw(tx, HoldID(c.ID, party))
		if err != nil {
			return err
		}
	}

	return nil
}

// dropDisputeTx withdraws the open dispute of a challenge that ended without
// a ruling and thaws its holds.
func (s *ChallengeService) dropDisputeTx(tx *bolt.Tx, c *Challenge) error {
	if c.DisputeID == "" {
		return nil
	}

	err := withdrawDispute(tx, c.DisputeID)
	if err != nil {
		return err
	}

	return s.ThawTx(tx, c)
}

// VoidTx ends a live challenge on behalf of an authority and refunds it.
// An open dispute on it is withdrawn.
func (s *ChallengeService) VoidTx(tx *bolt.Tx, c *Challenge, actor, note string) error {
	err := c.Void(actor, note, s.now())
	if err != nil {
		return err
	}

	err = s.dropDisputeTx(tx, c)
	if err != nil {
		return err
	}

	err = s.RefundTx(tx, c)
	if err != nil {
		return err
	}

	return Save(tx, c)
}

// Publish runs the after-commit side of a transaction: logs, metrics,
// notifications and bracket observers. It never fails.
func (s *ChallengeService) Publish(ctx context.Context, outcome Outcome) {
	var finished []*Challenge

	for _, c := range outcome.Challenges {
		if s.Logger != nil {
			last := c.History[len(c.History)-1]
			s.Logger.Info("challenge transition",
				slog.String("challenge_id", c.ID),
				slog.String("from", string(last.From)),
				slog.String("to", string(last.To)),
				slog.String("actor", last.Actor),
				slog.Int64("version", c.Version),
			)
		}

		if s.Metrics != nil {
			s.Metrics.Transition("challenge", string(c.Status))
		}

		if c.MatchRef != nil && c.Status.Terminal() {
			finished = append(finished, c)
		}
	}

	s.Notifications.Emit(ctx, outcome.Events...)

	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()

	for _, c := range finished {
		for _, o := range observers {
			o.ChallengeFinished(ctx, c)
		}
	}
}

// update loads a challenge, runs fn and saves it in one transaction.
// expected is the caller's version; zero skips the check.
func (s *ChallengeService) update(
	ctx context.Context,
	id, actor string,
	expected int64,
	fn func(tx *bolt.Tx, c *Challenge) error) (*Challenge, error) {
	var (
		result  *Challenge
		outcome Outcome
	)

	err := s.DatabaseService.Update(func(tx *bolt.Tx) error {
		c, err := Load(tx, id)
		if err != nil {
			return err
		}

		err = common.CheckVersion(expected, c.Version)
		if err != nil {
			return err
		}

		err = fn(tx, c)
		if err != nil {
			return err
		}

		err = Save(tx, c)
		if err != nil {
			return err
		}

		result = c
		outcome.Add(c, actor)

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Publish(ctx, outcome)

	return result, nil
}

func (s *ChallengeService) Create(ctx context.Context, params CreateParams) (*Challenge, error) {
	var (
		result  *Challenge
		outcome Outcome
	)

	err := s.DatabaseService.Update(func(tx *bolt.Tx) error {
		c, err := s.CreateTx(tx, params, nil)
		if err != nil {
			return err
		}

		result = c
		outcome.Add(c, params.CreatorID)

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Publish(ctx, outcome)

	return result, nil
}

func (s *ChallengeService) Edit(ctx context.Context, id, actor string, expected int64, params EditParams) (*Challenge, error) {
	return s.update(ctx, id, actor, expected, func(_ *bolt.Tx, c *Challenge) error {
		return c.Edit(actor, params, s.now())
	})
}

func (s *ChallengeService) Accept(ctx context.Context, id, actor string, expected int64) (*Challenge, error) {
	return s.update(ctx, id, actor, expected, func(tx *bolt.Tx, c *Challenge) error {
		return s.AcceptTx(tx, c, actor)
	})
}

func (s *ChallengeService) Cancel(ctx context.Context, id, actor string, expected int64) (*Challenge, error) {
	return s.update(ctx, id, actor, expected, func(tx *bolt.Tx, c *Challenge) error {
		err := c.Cancel(actor, s.now())
		if err != nil {
			return err
		}

		return s.RefundTx(tx, c)
	})
}

func (s *ChallengeService) ReportScore(ctx context.Context, id, actor string, expected int64, scores Scores) (*Challenge, error) {
	return s.update(ctx, id, actor, expected, func(_ *bolt.Tx, c *Challenge) error {
		return c.ReportScore(actor, scores, s.now())
	})
}

func (s *ChallengeService) ConfirmScore(ctx context.Context, id, actor string, expected int64) (*Challenge, error) {
	return s.update(ctx, id, actor, expected, func(tx *bolt.Tx, c *Challenge) error {
		err := c.Confirm(actor, s.now())
		if err != nil {
			return err
		}

		return s.SettleTx(tx, c)
	})
}

func (s *ChallengeService) RequestMutualCancel(ctx context.Context, id, actor string, expected int64) (*Challenge, error) {
	return s.update(ctx, id, actor, expected, func(_ *bolt.Tx, c *Challenge) error {
		return c.RequestMutualCancel(actor, s.now())
	})
}

func (s *ChallengeService) ConfirmMutualCancel(ctx context.Context, id, actor string, expected int64) (*Challenge, error) {
	return s.update(ctx, id, actor, expected, func(tx *bolt.Tx, c *Challenge) error {
		err := c.ConfirmMutualCancel(actor, s.now())
		if err != nil {
			return err
		}

		err = s.dropDisputeTx(tx, c)
		if err != nil {
			return err
		}

		return s.RefundTx(tx, c)
	})
}

func (s *ChallengeService) DeclineMutualCancel(ctx context.Context, id, actor string, expected int64) (*Challenge, error) {
	return s.update(ctx, id, actor, expected, func(_ *bolt.Tx, c *Challenge) error {
		return c.DeclineMutualCancel(actor, s.now())
	})
}

// withdrawDispute closes an open dispute whose challenge ended without a ruling.
func withdrawDispute(tx *bolt.Tx, disputeID string) error {
	d, err := LoadDispute(tx, disputeID)
	if err != nil {
		return err
	}

	if d.Status != DisputeOpen {
		return nil
	}

	d.Status = DisputeWithdrawn

	return SaveDispute(tx, d)
}

func (s *ChallengeService) Get(id string) (*Challenge, error) {
	var result *Challenge

	err := s.DatabaseService.View(func(tx *bolt.Tx) error {
		var err error

		result, err = Load(tx, id)

		return err
	})

	return result, err
}

func (s *ChallengeService) List(participantID string, includeTerminal bool) ([]*Challenge, error) {
	var result []*Challenge

	err := s.DatabaseService.View(func(tx *bolt.Tx) error {
		var err error

		result, err = ListByParticipant(tx, participantID, includeTerminal)

		return err
	})

	return result, err
}
