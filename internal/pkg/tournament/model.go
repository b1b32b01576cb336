package tournament

import (
	"time"

	"github.com/vreid/arena/internal/pkg/common"
	"github.com/vreid/arena/internal/pkg/ledger"
)

type Status string

const (
	StatusRegistering Status = "registering"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

type SlotKind string

const (
	SlotParticipant SlotKind = "participant"
	// SlotPlaceholder stands for "winner of FeederMatchID" until it resolves.
	SlotPlaceholder SlotKind = "placeholder"
	SlotBye         SlotKind = "bye"
)

type Slot struct {
	Kind          SlotKind `json:"kind"`
	ParticipantID string   `json:"participant_id,omitempty"`
	FeederMatchID string   `json:"feeder_match_id,omitempty"`
}

func (s Slot) Concrete() bool { return s.Kind == SlotParticipant }

type MatchStatus string

const (
	// MatchWaiting has at least one placeholder slot.
	MatchWaiting MatchStatus = "waiting"
	// MatchReady has two concrete slots but no live challenge yet.
	MatchReady     MatchStatus = "ready"
	MatchLive      MatchStatus = "live"
	MatchResolved  MatchStatus = "resolved"
	MatchCancelled MatchStatus = "cancelled"
)

type MatchTransition struct {
	To    MatchStatus `json:"to"`
	Actor string      `json:"actor"`
	At    time.Time   `json:"at"`
	Note  string      `json:"note,omitempty"`
}

type Match struct {
	ID       string `json:"id"`
	Round    int    `json:"round"`
	Position int    `json:"position"`

	SlotA Slot `json:"slot_a"`
	SlotB Slot `json:"slot_b"`

	Status      MatchStatus `json:"status"`
	ChallengeID string      `json:"challenge_id,omitempty"`
	// PastChallengeIDs are voided attempts replaced by a rematch.
	PastChallengeIDs []string `json:"past_challenge_ids,omitempty"`
	// LastError is why the challenge for a ready match could not be created.
	LastError string `json:"last_error,omitempty"`

	ResultParticipantID string `json:"result_participant_id,omitempty"`
	LoserID             string `json:"loser_id,omitempty"`
	Bye                 bool   `json:"bye,omitempty"`

	History []MatchTransition `json:"history"`
}

type Transition struct {
	From  Status    `json:"from,omitempty"`
	To    Status    `json:"to"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
	Note  string    `json:"note,omitempty"`
}

type Placement struct {
	Place         int    `json:"place"`
	ParticipantID string `json:"participant_id"`
	Prize         int64  `json:"prize"`
}

type Tournament struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Game     string `json:"game"`
	Platform string `json:"platform"`
	HostID   string `json:"host_id"`

	MaxParticipants int          `json:"max_participants"`
	Asset           ledger.Asset `json:"asset"`
	EntryFee        int64        `json:"entry_fee"`
	MatchStake      int64        `json:"match_stake"`
	// PrizeSplit is in basis points per place, first place first.
	PrizeSplit []int64 `json:"prize_split"`

	Participants []string `json:"participants"`
	PrizePool    int64    `json:"prize_pool"`

	Status     Status      `json:"status"`
	Rounds     [][]*Match  `json:"rounds,omitempty"`
	Placements []Placement `json:"placements,omitempty"`

	CreatedAt time.Time    `json:"created_at"`
	History   []Transition `json:"history"`

	Version int64 `json:"version"`
}

func (t *Tournament) RecordID() string         { return t.ID }
func (t *Tournament) RecordVersion() int64     { return t.Version }
func (t *Tournament) SetRecordVersion(v int64) { t.Version = v }

// EscrowAccount holds a tournament's entry fees until payout or refund.
func EscrowAccount(tournamentID string) string {
	return common.EscrowPrefix + "tournament/" + tournamentID
}

type CreateParams struct {
	HostID          string       `json:"-"`
	Title           string       `json:"title"`
	Game            string       `json:"game"`
	Platform        string       `json:"platform"`
	MaxParticipants int          `json:"max_participants"`
	Asset           ledger.Asset `json:"asset"`
	EntryFee        int64        `json:"entry_fee"`
	MatchStake      int64        `json:"match_stake"`
	PrizeSplit      []int64      `json:"prize_split"`
}

type Standing struct {
	ParticipantID   string `json:"participant_id"`
	Seed            int    `json:"seed"`
	Wins            int    `json:"wins"`
	Alive           bool   `json:"alive"`
	EliminatedRound int    `json:"eliminated_round,omitempty"`
	Place           int    `json:"place,omitempty"`
}
