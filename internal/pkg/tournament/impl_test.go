package tournament_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/arena/internal/pkg/authority"
	"github.com/vreid/arena/internal/pkg/challenge"
	"github.com/vreid/arena/internal/pkg/common"
	"github.com/vreid/arena/internal/pkg/dispute"
	"github.com/vreid/arena/internal/pkg/fees"
	"github.com/vreid/arena/internal/pkg/ledger"
	"github.com/vreid/arena/internal/pkg/notify"
	"github.com/vreid/arena/internal/pkg/tournament"
	bolt "go.etcd.io/bbolt"
)

type staticFees fees.Schedule

func (s staticFees) Current() fees.Schedule { return fees.Schedule(s) }

type fixture struct {
	db          *common.DatabaseService
	challenges  *challenge.ChallengeService
	tournaments *tournament.TournamentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := common.OpenDatabase(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Shutdown()
	})

	logger := slog.New(slog.DiscardHandler)
	notifications := &notify.NotificationService{}

	f := &fixture{db: db}

	f.challenges = &challenge.ChallengeService{
		DatabaseService: db,
		Fees:            staticFees{BasisPoints: 500},
		Notifications:   notifications,
		Logger:          logger,
		Treasury:        "platform",
	}

	f.tournaments = &tournament.TournamentService{
		DatabaseService: db,
		Challenges:      f.challenges,
		Authority:       authority.NewStaticAuthority("mod"),
		Notifications:   notifications,
		Logger:          logger,
	}

	f.challenges.Observe(f.tournaments)

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

func (f *fixture) open(t *testing.T, entryFee, matchStake int64, split []int64, participants ...string) *tournament.Tournament {
	t.Helper()

	ctx := context.Background()

	tour, err := f.tournaments.Create(ctx, tournament.CreateParams{
		HostID:          "host",
		Title:           "Friday Cup",
		Game:            "tekken",
		Platform:        "ps5",
		MaxParticipants: 8,
		Asset:           ledger.AssetUSDC,
		EntryFee:        entryFee,
		MatchStake:      matchStake,
		PrizeSplit:      split,
	})
	require.NoError(t, err)

	for _, p := range participants {
		tour, err = f.tournaments.Join(ctx, tour.ID, p, 0)
		require.NoError(t, err)
	}

	return tour
}

func (f *fixture) match(t *testing.T, tournamentID, matchID string) *tournament.Match {
	t.Helper()

	tour, err := f.tournaments.Get(tournamentID)
	require.NoError(t, err)

	m, err := tour.Match(matchID)
	require.NoError(t, err)

	return m
}

// play runs a match challenge to confirmation with the given winner.
func (f *fixture) play(t *testing.T, challengeID, winner string) {
	t.Helper()

	ctx := context.Background()

	c, err := f.challenges.Get(challengeID)
	require.NoError(t, err)

	_, err = f.challenges.Accept(ctx, c.ID, c.OpponentID, 0)
	require.NoError(t, err)

	scores := challenge.Scores{Creator: 2, Opponent: 0}
	if winner == c.OpponentID {
		scores = challenge.Scores{Creator: 0, Opponent: 2}
	}

	_, err = f.challenges.ReportScore(ctx, c.ID, c.CreatorID, 0, scores)
	require.NoError(t, err)

	_, err = f.challenges.ConfirmScore(ctx, c.ID, c.OpponentID, 0)
	require.NoError(t, err)
}

func TestTournamentRunsToCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	for _, p := range []string{"alice", "bob", "carol"} {
		f.fund(t, p, 100)
	}

	tour := f.open(t, 100, 0, []int64{7000, 3000}, "alice", "bob", "carol")
	assert.Equal(t, int64(300), tour.PrizePool)
	assert.Equal(t, int64(300), f.account(t, tournament.EscrowAccount(tour.ID)).Balance)

	_, err := f.tournaments.Start(ctx, tour.ID, "alice", 0)
	require.ErrorIs(t, err, common.ErrInvalidActor)

	tour, err = f.tournaments.Start(ctx, tour.ID, "host", tour.Version)
	require.NoError(t, err)
	assert.Equal(t, tournament.StatusInProgress, tour.Status)

	bye := f.match(t, tour.ID, "r1m1")
	assert.True(t, bye.Bye)
	assert.Equal(t, "alice", bye.ResultParticipantID)
	assert.Empty(t, bye.ChallengeID)

	semi := f.match(t, tour.ID, "r1m2")
	require.Equal(t, tournament.MatchLive, semi.Status)

	c, err := f.challenges.Get(semi.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, "bob", c.CreatorID)
	assert.Equal(t, "carol", c.OpponentID)
	assert.Equal(t, &challenge.MatchRef{TournamentID: tour.ID, MatchID: "r1m2"}, c.MatchRef)

	f.play(t, semi.ChallengeID, "bob")

	final := f.match(t, tour.ID, "r2m1")
	require.Equal(t, tournament.MatchLive, final.Status)
	assert.Equal(t, "alice", final.SlotA.ParticipantID)
	assert.Equal(t, "bob", final.SlotB.ParticipantID)

	f.play(t, final.ChallengeID, "alice")

	tour, err = f.tournaments.Get(tour.ID)
	require.NoError(t, err)
	assert.Equal(t, tournament.StatusCompleted, tour.Status)
	assert.Equal(t, []tournament.Placement{
		{Place: 1, ParticipantID: "alice", Prize: 210},
		{Place: 2, ParticipantID: "bob", Prize: 90},
		{Place: 3, ParticipantID: "carol"},
	}, tour.Placements)

	assert.Equal(t, int64(210), f.account(t, "alice").Balance)
	assert.Equal(t, int64(90), f.account(t, "bob").Balance)
	assert.Zero(t, f.account(t, "carol").Balance)
	assert.Zero(t, f.account(t, tournament.EscrowAccount(tour.ID)).Balance)

	again, err := f.tournaments.ReportMatchResult(ctx, tour.ID, "r2m1", "alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, tour.Version, again.Version)

	_, err = f.tournaments.ReportMatchResult(ctx, tour.ID, "r2m1", "bob", "bob")
	require.ErrorIs(t, err, common.ErrPolicyViolation)
}

func TestReportMatchResultTrustsTheChallenge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	tour := f.open(t, 0, 0, nil, "alice", "bob")

	tour, err := f.tournaments.Start(ctx, tour.ID, "mod", 0)
	require.NoError(t, err)

	m := f.match(t, tour.ID, "r1m1")

	_, err = f.tournaments.ReportMatchResult(ctx, tour.ID, "r1m1", "alice", "alice")
	require.ErrorIs(t, err, common.ErrWrongState)

	_, err = f.challenges.Accept(ctx, m.ChallengeID, "bob", 0)
	require.NoError(t, err)

	_, err = f.challenges.ReportScore(ctx, m.ChallengeID, "alice", 0, challenge.Scores{Creator: 0, Opponent: 1})
	require.NoError(t, err)

	_, err = f.challenges.ConfirmScore(ctx, m.ChallengeID, "bob", 0)
	require.NoError(t, err)

	_, err = f.tournaments.ReportMatchResult(ctx, tour.ID, "r1m1", "alice", "alice")
	require.ErrorIs(t, err, common.ErrPolicyViolation)

	tour, err = f.tournaments.Get(tour.ID)
	require.NoError(t, err)
	assert.Equal(t, tournament.StatusCompleted, tour.Status)
	assert.Equal(t, "bob", tour.Placements[0].ParticipantID)
}

func TestCancelRefundsEntriesAndOpenMatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	for _, p := range []string{"alice", "bob"} {
		f.fund(t, p, 100)
	}

	tour := f.open(t, 50, 20, nil, "alice", "bob")

	tour, err := f.tournaments.Start(ctx, tour.ID, "host", 0)
	require.NoError(t, err)

	m := f.match(t, tour.ID, "r1m1")
	require.Equal(t, tournament.MatchLive, m.Status)

	_, err = f.challenges.Accept(ctx, m.ChallengeID, "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(21), f.account(t, "alice").Reserved)
	assert.Equal(t, int64(21), f.account(t, "bob").Reserved)

	_, err = f.tournaments.Cancel(ctx, tour.ID, "bob", 0)
	require.ErrorIs(t, err, common.ErrInvalidActor)

	_, err = f.tournaments.Cancel(ctx, tour.ID, "host", 0)
	require.ErrorIs(t, err, common.ErrInvalidActor)

	tour, err = f.tournaments.Cancel(ctx, tour.ID, "mod", 0)
	require.NoError(t, err)
	assert.Equal(t, tournament.StatusCancelled, tour.Status)
	assert.Zero(t, tour.PrizePool)

	voided, err := f.challenges.Get(m.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, challenge.StatusMutualCancelled, voided.Status)

	for _, p := range []string{"alice", "bob"} {
		acc := f.account(t, p)
		assert.Equal(t, int64(100), acc.Balance, p)
		assert.Zero(t, acc.Reserved, p)
	}

	assert.Zero(t, f.account(t, tournament.EscrowAccount(tour.ID)).Balance)
	assert.Equal(t, tournament.MatchCancelled, f.match(t, tour.ID, "r1m1").Status)

	// A voided match challenge of a cancelled tournament gets no rematch.
	assert.Equal(t, m.ChallengeID, f.match(t, tour.ID, "r1m1").ChallengeID)

	_, err = f.tournaments.Join(ctx, tour.ID, "carol", 0)
	require.ErrorIs(t, err, common.ErrWrongState)
}

func TestHostCancelsWhileRegistering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "alice", 100)

	tour := f.open(t, 40, 0, nil, "alice")

	tour, err := f.tournaments.Cancel(ctx, tour.ID, "host", 0)
	require.NoError(t, err)
	assert.Equal(t, tournament.StatusCancelled, tour.Status)
	assert.Equal(t, int64(100), f.account(t, "alice").Balance)
}

func TestCancelWithdrawsOpenMatchDispute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	for _, p := range []string{"alice", "bob"} {
		f.fund(t, p, 100)
	}

	disputes := &dispute.DisputeService{
		DatabaseService: f.db,
		Challenges:      f.challenges,
		Authority:       authority.NewStaticAuthority("mod"),
		Logger:          slog.New(slog.DiscardHandler),
	}

	tour := f.open(t, 0, 20, nil, "alice", "bob")

	tour, err := f.tournaments.Start(ctx, tour.ID, "host", 0)
	require.NoError(t, err)

	m := f.match(t, tour.ID, "r1m1")

	_, err = f.challenges.Accept(ctx, m.ChallengeID, "bob", 0)
	require.NoError(t, err)

	_, err = f.challenges.ReportScore(ctx, m.ChallengeID, "alice", 0, challenge.Scores{Creator: 2, Opponent: 1})
	require.NoError(t, err)

	d, err := disputes.Open(ctx, m.ChallengeID, "bob", "lag switch", 0)
	require.NoError(t, err)

	_, err = f.tournaments.Cancel(ctx, tour.ID, "mod", 0)
	require.NoError(t, err)

	withdrawn, err := disputes.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.DisputeWithdrawn, withdrawn.Status)

	queue, err := disputes.ListOpen("mod")
	require.NoError(t, err)
	assert.Empty(t, queue)

	_, err = disputes.Resolve(ctx, d.ID, "mod", dispute.ResolveParams{Resolution: challenge.ResolutionCreatorWins})
	require.ErrorIs(t, err, common.ErrWrongState)

	for _, p := range []string{"alice", "bob"} {
		acc := f.account(t, p)
		assert.Equal(t, int64(100), acc.Balance, p)
		assert.Zero(t, acc.Reserved, p)
	}
}

func TestVoidedMatchIsRematched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	tour := f.open(t, 0, 0, nil, "alice", "bob")

	tour, err := f.tournaments.Start(ctx, tour.ID, "host", 0)
	require.NoError(t, err)

	first := f.match(t, tour.ID, "r1m1").ChallengeID

	_, err = f.challenges.Accept(ctx, first, "bob", 0)
	require.NoError(t, err)

	_, err = f.challenges.RequestMutualCancel(ctx, first, "alice", 0)
	require.NoError(t, err)

	_, err = f.challenges.ConfirmMutualCancel(ctx, first, "bob", 0)
	require.NoError(t, err)

	m := f.match(t, tour.ID, "r1m1")
	assert.Equal(t, tournament.MatchLive, m.Status)
	assert.Equal(t, []string{first}, m.PastChallengeIDs)
	assert.NotEqual(t, first, m.ChallengeID)

	f.play(t, m.ChallengeID, "alice")

	tour, err = f.tournaments.Get(tour.ID)
	require.NoError(t, err)
	assert.Equal(t, tournament.StatusCompleted, tour.Status)
}

func TestRetryInstantiationAfterTopUp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	tour := f.open(t, 0, 50, nil, "alice", "bob")

	tour, err := f.tournaments.Start(ctx, tour.ID, "host", 0)
	require.NoError(t, err)

	m := f.match(t, tour.ID, "r1m1")
	assert.Equal(t, tournament.MatchReady, m.Status)
	assert.Empty(t, m.ChallengeID)
	assert.NotEmpty(t, m.LastError)

	_, err = f.tournaments.RetryInstantiation(ctx, tour.ID, "alice", 0)
	require.ErrorIs(t, err, common.ErrInvalidActor)

	f.fund(t, "alice", 53)

	_, err = f.tournaments.RetryInstantiation(ctx, tour.ID, "host", 0)
	require.NoError(t, err)

	m = f.match(t, tour.ID, "r1m1")
	assert.Equal(t, tournament.MatchLive, m.Status)
	assert.Empty(t, m.LastError)
	assert.Equal(t, int64(53), f.account(t, "alice").Reserved)
}

func TestJoinRequiresEntryFee(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "alice", 30)

	tour := f.open(t, 50, 0, nil)

	_, err := f.tournaments.Join(ctx, tour.ID, "alice", 0)
	require.ErrorIs(t, err, common.ErrInsufficientBalance)

	stored, err := f.tournaments.Get(tour.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Participants)
	assert.Zero(t, stored.PrizePool)
	assert.Equal(t, tour.Version, stored.Version)
	assert.Equal(t, int64(30), f.account(t, "alice").Balance)
}
