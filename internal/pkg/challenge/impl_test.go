package challenge_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/arena/internal/pkg/challenge"
	"github.com/vreid/arena/internal/pkg/common"
	"github.com/vreid/arena/internal/pkg/fees"
	"github.com/vreid/arena/internal/pkg/ledger"
	"github.com/vreid/arena/internal/pkg/notify"
	bolt "go.etcd.io/bbolt"
)

type fixedFees struct {
	mu       sync.Mutex
	schedule fees.Schedule
}

func (f *fixedFees) Current() fees.Schedule {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.schedule
}

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	fail   bool
}

func (r *recordingSink) Publish(_ context.Context, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail {
		return errors.New("broker down")
	}

	r.events = append(r.events, event)

	return nil
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]string, 0, len(r.events))
	for _, e := range r.events {
		result = append(result, e.Type)
	}

	return result
}

type fixture struct {
	db      *common.DatabaseService
	fees    *fixedFees
	sink    *recordingSink
	service *challenge.ChallengeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := common.OpenDatabase(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Shutdown()
	})

	f := &fixture{
		db:   db,
		fees: &fixedFees{schedule: fees.Schedule{BasisPoints: 500}},
		sink: &recordingSink{},
	}

	f.service = &challenge.ChallengeService{
		DatabaseService: db,
		Fees:            f.fees,
		Notifications:   &notify.NotificationService{Sink: f.sink, Metrics: common.NewMetrics()},
		Metrics:         common.NewMetrics(),
		Treasury:        "platform",
	}

	return f
}

func (f *fixture) fund(t *testing.T, participant string, amount int64) {
	t.Helper()

	require.NoError(t, f.db.Update(func(tx *bolt.Tx) error {
		return ledger.Deposit(tx, participant, ledger.AssetUSDC, amount)
	}))
}

func (f *fixture) account(t *testing.T, participant string) *ledger.Account {
	t.Helper()

	var acc *ledger.Account

	require.NoError(t, f.db.View(func(tx *bolt.Tx) error {
		var err error

		acc, err = ledger.Lookup(tx, participant, ledger.AssetUSDC)

		return err
	}))

	return acc
}

func (f *fixture) raw(t *testing.T, id string) []byte {
	t.Helper()

	var data []byte

	require.NoError(t, f.db.View(func(tx *bolt.Tx) error {
		data = append([]byte(nil), tx.Bucket([]byte(common.ChallengesBucket)).Get([]byte(id))...)

		return nil
	}))

	return data
}

func (f *fixture) total(t *testing.T) int64 {
	t.Helper()

	var total int64

	require.NoError(t, f.db.View(func(tx *bolt.Tx) error {
		var err error

		total, err = ledger.Total(tx, ledger.AssetUSDC)

		return err
	}))

	return total
}

func (f *fixture) create(t *testing.T, stake int64) *challenge.Challenge {
	t.Helper()

	c, err := f.service.Create(context.Background(), challenge.CreateParams{
		CreatorID:   "creator",
		OpponentID:  "opponent",
		Game:        "street-fighter",
		Platform:    "ps5",
		StakeAsset:  ledger.AssetUSDC,
		StakeAmount: stake,
	})
	require.NoError(t, err)

	return c
}

func TestConfirmSettlesPool(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "creator", 1000)
	f.fund(t, "opponent", 1000)

	c := f.create(t, 100)
	assert.Equal(t, int64(10), c.FeeAmount)
	assert.Equal(t, int64(105), f.account(t, "creator").Reserved)

	_, err := f.service.Accept(ctx, c.ID, "opponent", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(105), f.account(t, "opponent").Reserved)

	_, err = f.service.ReportScore(ctx, c.ID, "creator", 0, challenge.Scores{Creator: 2, Opponent: 1})
	require.NoError(t, err)

	confirmed, err := f.service.ConfirmScore(ctx, c.ID, "opponent", 0)
	require.NoError(t, err)
	assert.Equal(t, challenge.StatusConfirmed, confirmed.Status)
	assert.Equal(t, "creator", confirmed.WinnerID)

	creator := f.account(t, "creator")
	opponent := f.account(t, "opponent")
	platform := f.account(t, "platform")

	// The winner ends up with the pool minus the fee: +200-10 on a 100 stake.
	assert.Equal(t, int64(1090), creator.Balance)
	assert.Equal(t, int64(900), opponent.Balance)
	assert.Equal(t, int64(10), platform.Balance)
	assert.Zero(t, creator.Reserved)
	assert.Zero(t, opponent.Reserved)

	assert.Equal(t, confirmed.Quote.Pool, confirmed.Quote.Payout+confirmed.FeeAmount)
	assert.Equal(t, int64(2000), f.total(t))

	assert.Equal(t, []string{
		"challenge.pending",
		"challenge.accepted",
		"challenge.scored",
		"challenge.confirmed",
	}, f.sink.types())
}

func TestCreateRequiresBalanceForStakeAndFee(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fund(t, "creator", 104)

	_, err := f.service.Create(context.Background(), challenge.CreateParams{
		CreatorID:   "creator",
		OpponentID:  "opponent",
		Game:        "tekken",
		StakeAsset:  ledger.AssetUSDC,
		StakeAmount: 100,
	})
	require.ErrorIs(t, err, common.ErrInsufficientBalance)

	assert.Zero(t, f.account(t, "creator").Reserved)

	list, err := f.service.List("creator", true)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPlatformAccountsCannotWager(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fund(t, "platform", 1000)
	f.fund(t, "creator", 1000)

	_, err := f.service.Create(context.Background(), challenge.CreateParams{
		CreatorID:   "platform",
		OpponentID:  "opponent",
		Game:        "tekken",
		StakeAsset:  ledger.AssetUSDC,
		StakeAmount: 100,
	})
	require.ErrorIs(t, err, common.ErrInvalidActor)
	assert.Zero(t, f.account(t, "platform").Reserved)

	open, err := f.service.Create(context.Background(), challenge.CreateParams{
		CreatorID:   "creator",
		Game:        "tekken",
		StakeAsset:  ledger.AssetUSDC,
		StakeAmount: 100,
	})
	require.NoError(t, err)

	_, err = f.service.Accept(context.Background(), open.ID, "platform", 0)
	require.ErrorIs(t, err, common.ErrInvalidActor)
	assert.Zero(t, f.account(t, "platform").Reserved)
}

func TestBackToBackCreatesCannotDoubleSpend(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fund(t, "creator", 150)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
	)

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := f.service.Create(context.Background(), challenge.CreateParams{
				CreatorID:   "creator",
				Game:        "fifa",
				StakeAsset:  ledger.AssetUSDC,
				StakeAmount: 100,
			})
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], common.ErrInsufficientBalance)
	assert.Equal(t, int64(105), f.account(t, "creator").Reserved)
}

func TestAcceptWithoutFundsLeavesChallengeUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "creator", 1000)
	f.fund(t, "opponent", 50)

	c := f.create(t, 100)
	before := f.raw(t, c.ID)

	_, err := f.service.Accept(ctx, c.ID, "opponent", 0)
	require.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, err = f.service.ConfirmScore(ctx, c.ID, "opponent", 0)
	require.ErrorIs(t, err, common.ErrWrongState)

	assert.Equal(t, before, f.raw(t, c.ID))
	assert.Zero(t, f.account(t, "opponent").Reserved)
}

func TestStaleVersionIsConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "creator", 1000)
	f.fund(t, "opponent", 1000)

	c := f.create(t, 100)

	rules := "first to three"
	edited, err := f.service.Edit(ctx, c.ID, "creator", c.Version, challenge.EditParams{RulesText: &rules})
	require.NoError(t, err)
	assert.Equal(t, c.Version+1, edited.Version)

	_, err = f.service.Accept(ctx, c.ID, "opponent", c.Version)
	require.ErrorIs(t, err, common.ErrConflict)

	_, err = f.service.Accept(ctx, c.ID, "opponent", edited.Version)
	require.NoError(t, err)
}

func TestCancelReleasesCreatorHold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "creator", 1000)

	c := f.create(t, 100)

	_, err := f.service.Cancel(ctx, c.ID, "creator", 0)
	require.NoError(t, err)

	creator := f.account(t, "creator")
	assert.Equal(t, int64(1000), creator.Balance)
	assert.Zero(t, creator.Reserved)

	_, err = f.service.Accept(ctx, c.ID, "opponent", 0)
	assert.ErrorIs(t, err, common.ErrWrongState)
}

func TestMutualCancelRefundsWithoutFee(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "creator", 1000)
	f.fund(t, "opponent", 1000)

	c := f.create(t, 100)

	_, err := f.service.Accept(ctx, c.ID, "opponent", 0)
	require.NoError(t, err)

	_, err = f.service.RequestMutualCancel(ctx, c.ID, "creator", 0)
	require.NoError(t, err)

	_, err = f.service.ConfirmMutualCancel(ctx, c.ID, "creator", 0)
	require.ErrorIs(t, err, common.ErrInvalidActor)

	done, err := f.service.ConfirmMutualCancel(ctx, c.ID, "opponent", 0)
	require.NoError(t, err)
	assert.Equal(t, challenge.StatusMutualCancelled, done.Status)

	for _, p := range []string{"creator", "opponent"} {
		acc := f.account(t, p)
		assert.Equal(t, int64(1000), acc.Balance)
		assert.Zero(t, acc.Reserved)
	}

	assert.Zero(t, f.account(t, "platform").Balance)
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sink.fail = true
	f.fund(t, "creator", 1000)

	c := f.create(t, 100)

	stored, err := f.service.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.StatusPending, stored.Status)
}

func TestFeeSnapshotSurvivesScheduleChange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "creator", 1000)
	f.fund(t, "opponent", 1000)

	c := f.create(t, 100)

	f.fees.mu.Lock()
	f.fees.schedule = fees.Schedule{BasisPoints: 2000}
	f.fees.mu.Unlock()

	_, err := f.service.Accept(ctx, c.ID, "opponent", 0)
	require.NoError(t, err)

	_, err = f.service.ReportScore(ctx, c.ID, "opponent", 0, challenge.Scores{Creator: 0, Opponent: 4})
	require.NoError(t, err)

	confirmed, err := f.service.ConfirmScore(ctx, c.ID, "creator", 0)
	require.NoError(t, err)

	assert.Equal(t, int64(10), confirmed.FeeAmount)
	assert.Equal(t, fees.Schedule{BasisPoints: 500}, confirmed.FeeSchedule)
	assert.Equal(t, int64(1090), f.account(t, "opponent").Balance)
	assert.Equal(t, int64(10), f.account(t, "platform").Balance)
}

type observerFunc func(ctx context.Context, c *challenge.Challenge)

func (o observerFunc) ChallengeFinished(ctx context.Context, c *challenge.Challenge) { o(ctx, c) }

func TestObserversSeeFinishedBracketChallenges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	var seen []string

	f.service.Observe(observerFunc(func(_ context.Context, c *challenge.Challenge) {
		seen = append(seen, c.ID)
	}))

	var c *challenge.Challenge

	require.NoError(t, f.db.Update(func(tx *bolt.Tx) error {
		var err error

		c, err = f.service.CreateTx(tx, challenge.CreateParams{
			CreatorID:  "a",
			OpponentID: "b",
			Game:       "dota",
			StakeAsset: ledger.AssetUSDC,
		}, &challenge.MatchRef{TournamentID: "t-1", MatchID: "r0m0"})

		return err
	}))

	_, err := f.service.Accept(ctx, c.ID, "b", 0)
	require.NoError(t, err)

	_, err = f.service.ReportScore(ctx, c.ID, "a", 0, challenge.Scores{Creator: 1, Opponent: 0})
	require.NoError(t, err)
	assert.Empty(t, seen)

	_, err = f.service.ConfirmScore(ctx, c.ID, "b", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, seen)

	_, err = f.service.Create(ctx, challenge.CreateParams{
		CreatorID:  "a",
		Game:       "dota",
		StakeAsset: ledger.AssetUSDC,
	})
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}
