package tournament

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/vreid/arena/internal/pkg/common"
	"github.com/vreid/arena/internal/pkg/fees"
)

const MinParticipants = 2

func NextPowerOfTwo(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}

	return size
}

// SeedOrder lists the seeds (1-based) in bracket position order so that seed
// s meets seed size+1-s in round one and the top seeds only meet late.
func SeedOrder(size int) []int {
	order := []int{1}

	for len(order) < size {
		next := make([]int, 0, len(order)*2)
		total := len(order)*2 + 1

		for _, seed := range order {
			next = append(next, seed, total-seed)
		}

		order = next
	}

	return order
}

func MatchID(round, position int) string {
	return fmt.Sprintf("r%dm%d", round, position)
}

// New validates params and returns a tournament open for registration.
func New(id string, params CreateParams, now time.Time) (*Tournament, error) {
	if strings.TrimSpace(params.Game) == "" {
		return nil, common.Errorf(common.KindInvalidArgument, "game is required")
	}

	if params.MaxParticipants < MinParticipants {
		return nil, common.Errorf(common.KindInvalidArgument, "max participants must be at least %d", MinParticipants)
	}

	if params.EntryFee < 0 || params.MatchStake < 0 {
		return nil, common.Errorf(common.KindInvalidArgument, "entry fee and match stake cannot be negative")
	}

	err := params.Asset.Validate()
	if err != nil {
		return nil, err
	}

	split := params.PrizeSplit
	if len(split) == 0 {
		split = []int64{fees.MaxBasisPoints}
	}

	var sum int64

	for _, bps := range split {
		if bps < 0 {
			return nil, common.Errorf(common.KindInvalidArgument, "prize split cannot be negative")
		}

		sum += bps
	}

	if sum != fees.MaxBasisPoints {
		return nil, common.Errorf(common.KindInvalidArgument,
			"prize split must add up to %d basis points, got %d", fees.MaxBasisPoints, sum)
	}

	title := params.Title
	if title == "" {
		title = params.Game
	}

	t := &Tournament{
		ID:              id,
		Title:           title,
		Game:            params.Game,
		Platform:        params.Platform,
		HostID:          params.HostID,
		MaxParticipants: params.MaxParticipants,
		Asset:           params.Asset,
		EntryFee:        params.EntryFee,
		MatchStake:      params.MatchStake,
		PrizeSplit:      slices.Clone(split),
		Participants:    []string{},
		CreatedAt:       now,
	}

	t.transition(StatusRegistering, params.HostID, now, "")

	return t, nil
}

func (t *Tournament) transition(to Status, actor string, now time.Time, note string) {
	t.History = append(t.History, Transition{
		From:  t.Status,
		To:    to,
		Actor: actor,
		At:    now,
		Note:  note,
	})
	t.Status = to
}

func (m *Match) transition(to MatchStatus, actor string, now time.Time, note string) {
	m.Status = to
	m.History = append(m.History, MatchTransition{
		To:    to,
		Actor: actor,
		At:    now,
		Note:  note,
	})
}

func (t *Tournament) wrongState(op string) error {
	return common.Errorf(common.KindWrongState, "cannot %s a tournament that is %s", op, t.Status)
}

func (t *Tournament) Join(participantID string, now time.Time) error {
	if t.Status != StatusRegistering {
		return t.wrongState("join")
	}

	if slices.Contains(t.Participants, participantID) {
		return common.Errorf(common.KindPolicyViolation, "%s already joined", participantID)
	}

	if len(t.Participants) >= t.MaxParticipants {
		return common.Errorf(common.KindPolicyViolation, "tournament is full")
	}

	t.Participants = append(t.Participants, participantID)
	t.PrizePool += t.EntryFee
	t.History = append(t.History, Transition{
		From:  t.Status,
		To:    t.Status,
		Actor: participantID,
		At:    now,
		Note:  "joined",
	})

	return nil
}

// Start freezes the participant order, seeds the bracket and resolves every
// BYE. Challenges for the ready matches are created by the caller.
func (t *Tournament) Start(actor string, now time.Time) error {
	if t.Status != StatusRegistering {
		return t.wrongState("start")
	}

	if len(t.Participants) < MinParticipants {
		return common.Errorf(common.KindPolicyViolation,
			"need at least %d participants, have %d", MinParticipants, len(t.Participants))
	}

	t.buildBracket(actor, now)
	t.transition(StatusInProgress, actor, now, "")

	for _, m := range t.Rounds[0] {
		switch {
		case m.SlotB.Kind == SlotBye:
			t.resolve(m, m.SlotA.ParticipantID, "", actor, now, "bye")
		case m.SlotA.Kind == SlotBye:
			t.resolve(m, m.SlotB.ParticipantID, "", actor, now, "bye")
		}
	}

	return nil
}

func (t *Tournament) buildBracket(actor string, now time.Time) {
	size := NextPowerOfTwo(len(t.Participants))
	order := SeedOrder(size)

	slot := func(seed int) Slot {
		if seed > len(t.Participants) {
			return Slot{Kind: SlotBye}
		}

		return Slot{Kind: SlotParticipant, ParticipantID: t.Participants[seed-1]}
	}

	t.Rounds = nil

	for round, matches := 1, size/2; matches >= 1; round, matches = round+1, matches/2 {
		current := make([]*Match, 0, matches)

		for position := 1; position <= matches; position++ {
			m := &Match{
				ID:       MatchID(round, position),
				Round:    round,
				Position: position,
			}

			if round == 1 {
				m.SlotA = slot(order[2*(position-1)])
				m.SlotB = slot(order[2*(position-1)+1])
			} else {
				m.SlotA = Slot{Kind: SlotPlaceholder, FeederMatchID: MatchID(round-1, 2*position-1)}
				m.SlotB = Slot{Kind: SlotPlaceholder, FeederMatchID: MatchID(round-1, 2*position)}
			}

			status := MatchWaiting
			if m.SlotA.Concrete() && m.SlotB.Concrete() {
				status = MatchReady
			}

			m.transition(status, actor, now, "")

			current = append(current, m)
		}

		t.Rounds = append(t.Rounds, current)
	}
}

func (t *Tournament) Match(id string) (*Match, error) {
	for _, round := range t.Rounds {
		for _, m := range round {
			if m.ID == id {
				return m, nil
			}
		}
	}

	return nil, common.Errorf(common.KindNotFound, "match %s not found in tournament %s", id, t.ID)
}

func (t *Tournament) Final() *Match {
	if len(t.Rounds) == 0 {
		return nil
	}

	return t.Rounds[len(t.Rounds)-1][0]
}

// resolve records a result and concretizes the slot it feeds. Reaching the
// final completes the tournament; payouts are left to the caller.
func (t *Tournament) resolve(m *Match, winnerID, loserID, actor string, now time.Time, note string) {
	m.ResultParticipantID = winnerID
	m.LoserID = loserID
	m.Bye = loserID == ""
	m.transition(MatchResolved, actor, now, note)

	if m.Round == len(t.Rounds) {
		t.Placements = t.placements()
		t.transition(StatusCompleted, actor, now, "")

		return
	}

	next := t.Rounds[m.Round][(m.Position-1)/2]
	concrete := Slot{Kind: SlotParticipant, ParticipantID: winnerID}

	if m.Position%2 == 1 {
		next.SlotA = concrete
	} else {
		next.SlotB = concrete
	}

	if next.SlotA.Concrete() && next.SlotB.Concrete() {
		next.transition(MatchReady, actor, now, "")
	}
}

// Resolve applies a confirmed result. Repeating a result is a no-op and
// reports false; a conflicting one is refused.
func (t *Tournament) Resolve(matchID, winnerID, actor string, now time.Time) (bool, error) {
	m, err := t.Match(matchID)
	if err != nil {
		return false, err
	}

	if m.Status == MatchResolved {
		if m.ResultParticipantID == winnerID {
			return false, nil
		}

		return false, common.Errorf(common.KindPolicyViolation,
			"match %s was already won by %s", m.ID, m.ResultParticipantID)
	}

	if t.Status != StatusInProgress {
		return false, t.wrongState("report a result in")
	}

	if m.Status != MatchLive {
		return false, common.Errorf(common.KindWrongState, "match %s is %s", m.ID, m.Status)
	}

	var loserID string

	switch winnerID {
	case m.SlotA.ParticipantID:
		loserID = m.SlotB.ParticipantID
	case m.SlotB.ParticipantID:
		loserID = m.SlotA.ParticipantID
	default:
		return false, common.Errorf(common.KindPolicyViolation, "%s does not play in match %s", winnerID, m.ID)
	}

	t.resolve(m, winnerID, loserID, actor, now, "")

	return true, nil
}

// Ready lists the matches that need a challenge, in bracket order.
func (t *Tournament) Ready() []*Match {
	var result []*Match

	for _, round := range t.Rounds {
		for _, m := range round {
			if m.Status == MatchReady && m.ChallengeID == "" {
				result = append(result, m)
			}
		}
	}

	return result
}

func (t *Tournament) Cancel(actor string, now time.Time) error {
	if t.Status != StatusRegistering && t.Status != StatusInProgress {
		return t.wrongState("cancel")
	}

	for _, round := range t.Rounds {
		for _, m := range round {
			if m.Status != MatchResolved {
				m.transition(MatchCancelled, actor, now, "tournament cancelled")
			}
		}
	}

	t.transition(StatusCancelled, actor, now, "")

	return nil
}

func (t *Tournament) seed(participantID string) int {
	return slices.Index(t.Participants, participantID) + 1
}

// eliminations maps each knocked-out participant to the round they lost in.
func (t *Tournament) eliminations() map[string]int {
	result := map[string]int{}

	for _, round := range t.Rounds {
		for _, m := range round {
			if m.Status == MatchResolved && m.LoserID != "" {
				result[m.LoserID] = m.Round
			}
		}
	}

	return result
}

// placements ranks the champion, then the runner-up, then everyone else by
// how late they were knocked out, ties going to the earlier registration.
func (t *Tournament) placements() []Placement {
	final := t.Final()
	if final == nil || final.Status != MatchResolved {
		return nil
	}

	eliminated := t.eliminations()
	rest := make([]string, 0, len(t.Participants))

	for _, p := range t.Participants {
		if p != final.ResultParticipantID && p != final.LoserID {
			rest = append(rest, p)
		}
	}

	sort.SliceStable(rest, func(a, b int) bool {
		if eliminated[rest[a]] != eliminated[rest[b]] {
			return eliminated[rest[a]] > eliminated[rest[b]]
		}

		return t.seed(rest[a]) < t.seed(rest[b])
	})

	order := append([]string{final.ResultParticipantID, final.LoserID}, rest...)
	result := make([]Placement, 0, len(order))

	var paid int64

	for i, p := range order {
		placement := Placement{Place: i + 1, ParticipantID: p}

		if i < len(t.PrizeSplit) {
			placement.Prize = fees.Portion(t.PrizePool, t.PrizeSplit[i])
			paid += placement.Prize
		}

		result = append(result, placement)
	}

	// Rounding dust and unfilled places go to the champion.
	result[0].Prize += t.PrizePool - paid

	return result
}

func (t *Tournament) Standings() []Standing {
	eliminated := t.eliminations()
	wins := map[string]int{}
	places := map[string]int{}

	for _, round := range t.Rounds {
		for _, m := range round {
			if m.Status == MatchResolved && !m.Bye {
				wins[m.ResultParticipantID]++
			}
		}
	}

	for _, p := range t.Placements {
		places[p.ParticipantID] = p.Place
	}

	result := make([]Standing, 0, len(t.Participants))

	for i, p := range t.Participants {
		_, out := eliminated[p]

		result = append(result, Standing{
			ParticipantID:   p,
			Seed:            i + 1,
			Wins:            wins[p],
			Alive:           !out && t.Status != StatusCancelled,
			EliminatedRound: eliminated[p],
			Place:           places[p],
		})
	}

	return result
}
