package challenge

import (
	"strings"
	"time"

	"github.com/vreid/arena/internal/pkg/common"
)

// The methods in this file are the guards of the lifecycle. They only touch
// the in-memory record; a caller that gets an error must discard it.

func (c *Challenge) transition(to Status, actor string, now time.Time, note string) {
	c.History = append(c.History, Transition{
		From:  c.Status,
		To:    to,
		Actor: actor,
		At:    now,
		Note:  note,
	})
	c.Status = to
	c.LastTransitionAt = now
}

func (c *Challenge) wrongState(op string) error {
	return common.Errorf(common.KindWrongState, "cannot %s challenge %s in status %s", op, c.ID, c.Status)
}

func (c *Challenge) requireParty(actor, op string) error {
	if !c.IsParty(actor) {
		return common.Errorf(common.KindInvalidActor, "%s is not a party to challenge %s and cannot %s it", actor, c.ID, op)
	}

	return nil
}

func New(id string, params CreateParams, now time.Time) (*Challenge, error) {
	if params.CreatorID == "" {
		return nil, common.Errorf(common.KindInvalidActor, "creator is required")
	}

	if params.OpponentID == params.CreatorID {
		return nil, common.Errorf(common.KindInvalidActor, "a participant cannot challenge themselves")
	}

	err := params.StakeAsset.Validate()
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(params.Game) == "" {
		return nil, common.Errorf(common.KindInvalidArgument, "game is required")
	}

	c := &Challenge{
		ID:          id,
		CreatorID:   params.CreatorID,
		OpponentID:  params.OpponentID,
		Game:        params.Game,
		Platform:    params.Platform,
		RulesText:   params.RulesText,
		StakeAsset:  params.StakeAsset,
		StakeAmount: params.StakeAmount,
		CreatedAt:   now,
	}

	c.transition(StatusPending, params.CreatorID, now, "created")

	return c, nil
}

func (c *Challenge) Edit(actor string, params EditParams, now time.Time) error {
	if c.Status != StatusPending {
		return c.wrongState("edit")
	}

	if actor != c.CreatorID {
		return common.Errorf(common.KindInvalidActor, "only the creator may edit challenge %s", c.ID)
	}

	if params.Game != nil {
		if strings.TrimSpace(*params.Game) == "" {
			return common.Errorf(common.KindInvalidArgument, "game is required")
		}

		c.Game = *params.Game
	}

	if params.Platform != nil {
		c.Platform = *params.Platform
	}

	if params.RulesText != nil {
		c.RulesText = *params.RulesText
	}

	c.transition(StatusPending, actor, now, "edited")

	return nil
}

// Accept binds the opponent. Open challenges take whoever accepts first.
func (c *Challenge) Accept(actor string, now time.Time) error {
	if c.Status != StatusPending {
		return c.wrongState("accept")
	}

	if actor == "" || actor == c.CreatorID {
		return common.Errorf(common.KindInvalidActor, "the creator cannot accept their own challenge")
	}

	if c.OpponentID != "" && actor != c.OpponentID {
		return common.Errorf(common.KindInvalidActor, "challenge %s is addressed to another opponent", c.ID)
	}

	c.OpponentID = actor
	c.transition(StatusAccepted, actor, now, "")

	return nil
}

func (c *Challenge) Cancel(actor string, now time.Time) error {
	if c.Status != StatusPending {
		return c.wrongState("cancel")
	}

	if actor != c.CreatorID {
		return common.Errorf(common.KindInvalidActor, "only the creator may cancel challenge %s", c.ID)
	}

	c.transition(StatusCancelled, actor, now, "")

	return nil
}

func ValidateScores(scores Scores) error {
	if scores.Creator < 0 || scores.Opponent < 0 {
		return common.Errorf(common.KindInvalidScore, "scores must not be negative")
	}

	if scores.Creator == scores.Opponent {
		return common.Errorf(common.KindInvalidScore, "tied scores cannot be reported, open a dispute instead")
	}

	return nil
}

func (c *Challenge) ReportScore(actor string, scores Scores, now time.Time) error {
	if c.Status != StatusAccepted {
		return c.wrongState("report a score for")
	}

	err := c.requireParty(actor, "report a score for")
	if err != nil {
		return err
	}

	err = ValidateScores(scores)
	if err != nil {
		return err
	}

	c.Scores = &scores
	c.ScoreReporterID = actor
	c.transition(StatusScored, actor, now, "")

	return nil
}

func (c *Challenge) rejectReporter(actor, op string) error {
	if c.ScoreReporterID != "" && actor == c.ScoreReporterID {
		return common.Errorf(common.KindInvalidActor, "the reporter of a score cannot %s it", op)
	}

	return nil
}

// Confirm accepts the reported score. The reporter check runs before the
// status check so a reporter is refused the same way in every status.
func (c *Challenge) Confirm(actor string, now time.Time) error {
	err := c.rejectReporter(actor, "confirm")
	if err != nil {
		return err
	}

	if c.Status != StatusScored {
		return c.wrongState("confirm")
	}

	err = c.requireParty(actor, "confirm")
	if err != nil {
		return err
	}

	c.WinnerID = c.winnerFromScores()
	c.transition(StatusConfirmed, actor, now, "")

	return nil
}

func (c *Challenge) winnerFromScores() string {
	if c.Scores.Creator > c.Scores.Opponent {
		return c.CreatorID
	}

	return c.OpponentID
}

func (c *Challenge) Dispute(actor, disputeID string, now time.Time) error {
	err := c.rejectReporter(actor, "dispute")
	if err != nil {
		return err
	}

	if c.Status != StatusScored {
		return c.wrongState("dispute")
	}

	err = c.requireParty(actor, "dispute")
	if err != nil {
		return err
	}

	c.DisputeID = disputeID
	c.transition(StatusDisputed, actor, now, "dispute "+disputeID)

	return nil
}

func (c *Challenge) RequestMutualCancel(actor string, now time.Time) error {
	switch c.Status {
	case StatusAccepted, StatusScored, StatusDisputed:
	default:
		return c.wrongState("request a mutual cancel of")
	}

	err := c.requireParty(actor, "request a mutual cancel of")
	if err != nil {
		return err
	}

	c.ResumeStatus = c.Status
	c.CancelRequesterID = actor
	c.transition(StatusMutualCancelRequested, actor, now, "")

	return nil
}

func (c *Challenge) ConfirmMutualCancel(actor string, now time.Time) error {
	if c.Status != StatusMutualCancelRequested {
		return c.wrongState("confirm a mutual cancel of")
	}

	err := c.requireParty(actor, "confirm a mutual cancel of")
	if err != nil {
		return err
	}

	if actor == c.CancelRequesterID {
		return common.Errorf(common.KindInvalidActor, "the requester of a mutual cancel cannot confirm it")
	}

	c.transition(StatusMutualCancelled, actor, now, "")

	return nil
}

// DeclineMutualCancel withdraws (requester) or refuses (other party) a
// pending mutual cancel and puts the challenge back where it was.
func (c *Challenge) DeclineMutualCancel(actor string, now time.Time) error {
	if c.Status != StatusMutualCancelRequested {
		return c.wrongState("decline a mutual cancel of")
	}

	err := c.requireParty(actor, "decline a mutual cancel of")
	if err != nil {
		return err
	}

	resume := c.ResumeStatus
	c.ResumeStatus = ""
	c.CancelRequesterID = ""
	c.transition(resume, actor, now, "mutual cancel declined")

	return nil
}

// UnderDispute reports whether a moderator may resolve the challenge now.
func (c *Challenge) UnderDispute() bool {
	return c.Status == StatusDisputed ||
		(c.Status == StatusMutualCancelRequested && c.ResumeStatus == StatusDisputed)
}

// Resolve applies a moderator decision. A win forces Confirmed with the
// declared winner; void ends in MutualCancelled. It never goes back to Scored.
func (c *Challenge) Resolve(moderator string, resolution Resolution, final *Scores, now time.Time) error {
	if !c.UnderDispute() {
		return c.wrongState("resolve")
	}

	switch resolution {
	case ResolutionCreatorWins, ResolutionOpponentWins:
		winner := c.CreatorID
		if resolution == ResolutionOpponentWins {
			winner = c.OpponentID
		}

		// Without final scores the reported ones stand, if they name the
		// same winner.
		if final == nil {
			if c.Scores == nil || (c.Scores.Creator > c.Scores.Opponent) != (winner == c.CreatorID) {
				return common.Errorf(common.KindInvalidScore, "final scores are required when the report names the other winner")
			}

			reported := *c.Scores
			final = &reported
		}

		err := ValidateScores(*final)
		if err != nil {
			return err
		}

		if (final.Creator > final.Opponent) != (winner == c.CreatorID) {
			return common.Errorf(common.KindInvalidScore, "final scores contradict the resolution")
		}

		c.Scores = final
		c.WinnerID = winner
		c.transition(StatusConfirmed, moderator, now, "dispute resolved: "+string(resolution))
	case ResolutionVoid:
		c.Scores = nil
		c.transition(StatusMutualCancelled, moderator, now, "dispute resolved: void")
	default:
		return common.Errorf(common.KindInvalidArgument, "unknown resolution %q", resolution)
	}

	return nil
}

// Void ends a live challenge without a winner on behalf of an authority,
// e.g. when its tournament is cancelled.
func (c *Challenge) Void(actor, note string, now time.Time) error {
	if c.Status.Terminal() {
		return c.wrongState("void")
	}

	if c.Status == StatusPending {
		c.transition(StatusCancelled, actor, now, note)

		return nil
	}

	c.transition(StatusMutualCancelled, actor, now, note)

	return nil
}
