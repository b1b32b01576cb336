package tournament_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/arena/internal/pkg/common"
	"github.com/vreid/arena/internal/pkg/ledger"
	"github.com/vreid/arena/internal/pkg/tournament"
)

var epoch = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func started(t *testing.T, participants int, split []int64) *tournament.Tournament {
	t.Helper()

	tour, err := tournament.New("t-1", tournament.CreateParams{
		HostID:          "host",
		Game:            "smash",
		MaxParticipants: 64,
		Asset:           ledger.AssetUSDC,
		EntryFee:        100,
		PrizeSplit:      split,
	}, epoch)
	require.NoError(t, err)

	for i := 1; i <= participants; i++ {
		require.NoError(t, tour.Join(fmt.Sprintf("p%d", i), epoch))
	}

	require.NoError(t, tour.Start("host", epoch))

	return tour
}

// play stands in for the match challenge being confirmed.
func play(t *testing.T, tour *tournament.Tournament, matchID, winner string) {
	t.Helper()

	m, err := tour.Match(matchID)
	require.NoError(t, err)
	require.Equal(t, tournament.MatchReady, m.Status, matchID)

	m.ChallengeID = "c-" + matchID
	m.Status = tournament.MatchLive

	changed, err := tour.Resolve(matchID, winner, "system", epoch)
	require.NoError(t, err)
	require.True(t, changed)
}

func TestSeedOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{1, 2}, tournament.SeedOrder(2))
	assert.Equal(t, []int{1, 4, 2, 3}, tournament.SeedOrder(4))
	assert.Equal(t, []int{1, 8, 4, 5, 2, 7, 3, 6}, tournament.SeedOrder(8))
}

func TestNextPowerOfTwo(t *testing.T) {
	t.Parallel()

	for n, expected := range map[int]int{2: 2, 3: 4, 4: 4, 5: 8, 8: 8, 9: 16, 17: 32} {
		assert.Equal(t, expected, tournament.NextPowerOfTwo(n), n)
	}
}

func TestBracketShape(t *testing.T) {
	t.Parallel()

	for n := 2; n <= 17; n++ {
		tour := started(t, n, nil)
		size := tournament.NextPowerOfTwo(n)

		matches := 0
		for _, round := range tour.Rounds {
			matches += len(round)
		}

		assert.Equal(t, size-1, matches, n)
		assert.Len(t, tour.Rounds[0], size/2, n)

		byes := 0
		seen := map[string]int{}

		for _, m := range tour.Rounds[0] {
			require.False(t, m.SlotA.Kind == tournament.SlotBye && m.SlotB.Kind == tournament.SlotBye,
				"%d participants: %s has two byes", n, m.ID)

			for _, slot := range []tournament.Slot{m.SlotA, m.SlotB} {
				if slot.Kind == tournament.SlotBye {
					byes++

					continue
				}

				seen[slot.ParticipantID]++
			}

			if m.SlotA.Kind == tournament.SlotBye || m.SlotB.Kind == tournament.SlotBye {
				assert.Equal(t, tournament.MatchResolved, m.Status)
				assert.True(t, m.Bye)
			}
		}

		assert.Equal(t, size-n, byes, n)
		assert.Len(t, seen, n)

		for p, count := range seen {
			assert.Equal(t, 1, count, "%d participants: %s", n, p)
		}

		// Every later slot is concrete only when its feeder resolved.
		for _, round := range tour.Rounds[1:] {
			for _, m := range round {
				for _, slot := range []tournament.Slot{m.SlotA, m.SlotB} {
					assert.NotEqual(t, tournament.SlotBye, slot.Kind)
				}
			}
		}
	}
}

func TestByesGoToTopSeeds(t *testing.T) {
	t.Parallel()

	tour := started(t, 5, nil)

	r1m1, err := tour.Match("r1m1")
	require.NoError(t, err)
	assert.Equal(t, "p1", r1m1.ResultParticipantID)

	r2m1, err := tour.Match("r2m1")
	require.NoError(t, err)
	assert.Equal(t, tournament.Slot{Kind: tournament.SlotParticipant, ParticipantID: "p1"}, r2m1.SlotA)
	assert.Equal(t, tournament.SlotPlaceholder, r2m1.SlotB.Kind)
	assert.Equal(t, "r1m2", r2m1.SlotB.FeederMatchID)
	assert.Equal(t, tournament.MatchWaiting, r2m1.Status)

	// p2 and p3 both had byes, so their semifinal is ready at once.
	r2m2, err := tour.Match("r2m2")
	require.NoError(t, err)
	assert.Equal(t, "p2", r2m2.SlotA.ParticipantID)
	assert.Equal(t, "p3", r2m2.SlotB.ParticipantID)

	ready := tour.Ready()
	require.Len(t, ready, 2)
	assert.Equal(t, "r1m2", ready[0].ID)
	assert.Equal(t, "r2m2", ready[1].ID)
}

func TestPlacementsAndPrizes(t *testing.T) {
	t.Parallel()

	tour := started(t, 5, []int64{5000, 3333, 1667})
	assert.Equal(t, int64(500), tour.PrizePool)

	play(t, tour, "r1m2", "p5")
	play(t, tour, "r2m2", "p3")
	play(t, tour, "r2m1", "p1")
	play(t, tour, "r3m1", "p3")

	assert.Equal(t, tournament.StatusCompleted, tour.Status)
	assert.Equal(t, []tournament.Placement{
		{Place: 1, ParticipantID: "p3", Prize: 251},
		{Place: 2, ParticipantID: "p1", Prize: 166},
		{Place: 3, ParticipantID: "p2", Prize: 83},
		{Place: 4, ParticipantID: "p5"},
		{Place: 5, ParticipantID: "p4"},
	}, tour.Placements)

	standings := map[string]tournament.Standing{}
	for _, s := range tour.Standings() {
		standings[s.ParticipantID] = s
	}

	assert.Equal(t, 2, standings["p3"].Wins)
	assert.True(t, standings["p3"].Alive)
	assert.Equal(t, 1, standings["p1"].Wins)
	assert.Equal(t, 3, standings["p1"].EliminatedRound)
	assert.Equal(t, 1, standings["p4"].EliminatedRound)
	assert.Equal(t, 5, standings["p4"].Place)
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	tour := started(t, 2, nil)
	play(t, tour, "r1m1", "p2")
	assert.Equal(t, []tournament.Placement{
		{Place: 1, ParticipantID: "p2", Prize: 200},
		{Place: 2, ParticipantID: "p1"},
	}, tour.Placements)

	historyLen := len(tour.History)

	changed, err := tour.Resolve("r1m1", "p2", "system", epoch)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, tour.History, historyLen)

	_, err = tour.Resolve("r1m1", "p1", "system", epoch)
	require.ErrorIs(t, err, common.ErrPolicyViolation)
}

func TestResolveRejectsOutsiders(t *testing.T) {
	t.Parallel()

	tour := started(t, 4, nil)

	m, err := tour.Match("r1m1")
	require.NoError(t, err)

	m.Status = tournament.MatchLive

	_, err = tour.Resolve("r1m1", "p2", "system", epoch)
	require.ErrorIs(t, err, common.ErrPolicyViolation)

	_, err = tour.Resolve("r2m1", "p1", "system", epoch)
	require.ErrorIs(t, err, common.ErrWrongState)

	_, err = tour.Resolve("r9m9", "p1", "system", epoch)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestNewValidatesPrizeSplit(t *testing.T) {
	t.Parallel()

	params := tournament.CreateParams{
		HostID:          "host",
		Game:            "smash",
		MaxParticipants: 8,
		Asset:           ledger.AssetETH,
		PrizeSplit:      []int64{6000, 3000},
	}

	_, err := tournament.New("t-1", params, epoch)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	params.PrizeSplit = []int64{11000, -1000}
	_, err = tournament.New("t-1", params, epoch)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	params.PrizeSplit = nil
	params.MaxParticipants = 1
	_, err = tournament.New("t-1", params, epoch)
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestJoinAndStartGuards(t *testing.T) {
	t.Parallel()

	tour, err := tournament.New("t-1", tournament.CreateParams{
		HostID:          "host",
		Game:            "smash",
		MaxParticipants: 2,
		Asset:           ledger.AssetUSDC,
	}, epoch)
	require.NoError(t, err)

	require.NoError(t, tour.Join("p1", epoch))
	require.ErrorIs(t, tour.Start("host", epoch), common.ErrPolicyViolation)
	require.ErrorIs(t, tour.Join("p1", epoch), common.ErrPolicyViolation)
	require.NoError(t, tour.Join("p2", epoch))
	require.ErrorIs(t, tour.Join("p3", epoch), common.ErrPolicyViolation)

	require.NoError(t, tour.Start("host", epoch))
	require.ErrorIs(t, tour.Join("p3", epoch), common.ErrWrongState)
	require.ErrorIs(t, tour.Start("host", epoch), common.ErrWrongState)

	require.NoError(t, tour.Cancel("host", epoch))
	require.ErrorIs(t, tour.Cancel("host", epoch), common.ErrWrongState)
}
