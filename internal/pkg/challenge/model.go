package challenge

import (
	"time"

	"github.com/vreid/arena/internal/pkg/fees"
	"github.com/vreid/arena/internal/pkg/ledger"
)

type Status string

const (
	StatusPending               Status = "pending"
	StatusAccepted              Status = "accepted"
	StatusScored                Status = "scored"
	StatusDisputed              Status = "disputed"
	StatusConfirmed             Status = "confirmed"
	StatusMutualCancelRequested Status = "mutual_cancel_requested"
	StatusMutualCancelled       Status = "mutual_cancelled"
	StatusCancelled             Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusMutualCancelled, StatusCancelled:
		return true
	case StatusPending, StatusAccepted, StatusScored, StatusDisputed, StatusMutualCancelRequested:
		return false
	default:
		return false
	}
}

type Scores struct {
	Creator  int64 `json:"creator"`
	Opponent int64 `json:"opponent"`
}

// Transition is one entry of the audit trail.
type Transition struct {
	From  Status    `json:"from,omitempty"`
	To    Status    `json:"to"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
	Note  string    `json:"note,omitempty"`
}

// MatchRef points back to the bracket slot a challenge was created for.
type MatchRef struct {
	TournamentID string `json:"tournament_id"`
	MatchID      string `json:"match_id"`
}

type Challenge struct {
	ID         string `json:"id"`
	CreatorID  string `json:"creator_id"`
	OpponentID string `json:"opponent_id,omitempty"`

	Game      string `json:"game"`
	Platform  string `json:"platform"`
	RulesText string `json:"rules_text"`

	StakeAsset  ledger.Asset  `json:"stake_asset"`
	StakeAmount int64         `json:"stake_amount"`
	FeeAmount   int64         `json:"fee_amount"`
	FeeSchedule fees.Schedule `json:"fee_schedule"`
	Quote       fees.Quote    `json:"quote"`

	Status Status  `json:"status"`
	Scores *Scores `json:"scores,omitempty"`

	ScoreReporterID   string `json:"score_reporter_id,omitempty"`
	CancelRequesterID string `json:"cancel_requester_id,omitempty"`
	// ResumeStatus is where a declined mutual cancel returns to.
	ResumeStatus Status `json:"resume_status,omitempty"`
	WinnerID     string `json:"winner_id,omitempty"`
	DisputeID    string `json:"dispute_id,omitempty"`

	CreatedAt        time.Time `json:"created_at"`
	LastTransitionAt time.Time `json:"last_transition_at"`

	MatchRef *MatchRef    `json:"match_ref,omitempty"`
	History  []Transition `json:"history"`

	Version int64 `json:"version"`
}

func (c *Challenge) RecordID() string         { return c.ID }
func (c *Challenge) RecordVersion() int64     { return c.Version }
func (c *Challenge) SetRecordVersion(v int64) { c.Version = v }

func (c *Challenge) IsParty(participantID string) bool {
	return participantID != "" && (participantID == c.CreatorID || participantID == c.OpponentID)
}

// LoserID is only meaningful once WinnerID is set.
func (c *Challenge) LoserID() string {
	if c.WinnerID == c.CreatorID {
		return c.OpponentID
	}

	return c.CreatorID
}

type DisputeStatus string

const (
	DisputeOpen      DisputeStatus = "open"
	DisputeResolved  DisputeStatus = "resolved"
	DisputeWithdrawn DisputeStatus = "withdrawn"
)

type Resolution string

const (
	ResolutionCreatorWins  Resolution = "creator_wins"
	ResolutionOpponentWins Resolution = "opponent_wins"
	ResolutionVoid         Resolution = "void"
)

type Dispute struct {
	ID          string        `json:"id"`
	ChallengeID string        `json:"challenge_id"`
	RaisedBy    string        `json:"raised_by"`
	Evidence    string        `json:"evidence,omitempty"`
	Status      DisputeStatus `json:"status"`
	OpenedAt    time.Time     `json:"opened_at"`

	ReportedScores *Scores `json:"reported_scores,omitempty"`

	ResolvedBy  string     `json:"resolved_by,omitempty"`
	Resolution  Resolution `json:"resolution,omitempty"`
	FinalScores *Scores    `json:"final_scores,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`

	Version int64 `json:"version"`
}

func (d *Dispute) RecordID() string         { return d.ID }
func (d *Dispute) RecordVersion() int64     { return d.Version }
func (d *Dispute) SetRecordVersion(v int64) { d.Version = v }

type CreateParams struct {
	CreatorID   string       `json:"-"`
	OpponentID  string       `json:"opponent_id"`
	Game        string       `json:"game"`
	Platform    string       `json:"platform"`
	RulesText   string       `json:"rules_text"`
	StakeAsset  ledger.Asset `json:"stake_asset"`
	StakeAmount int64        `json:"stake_amount"`
}

type EditParams struct {
	Game      *string `json:"game,omitempty"`
	Platform  *string `json:"platform,omitempty"`
	RulesText *string `json:"rules_text,omitempty"`
}
