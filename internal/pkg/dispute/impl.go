package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/do/v2"
	"github.com/vreid/arena/internal/pkg/authority"
	"github.com/vreid/arena/internal/pkg/challenge"
	"github.com/vreid/arena/internal/pkg/common"
	"github.com/vreid/arena/internal/pkg/evidence"
	"github.com/vreid/arena/internal/pkg/notify"
	bolt "go.etcd.io/bbolt"
)

const (
	EventOpened   = "dispute.opened"
	EventResolved = "dispute.resolved"
)

// ResolvedPayload is what reputation services consume to track losing
// disputes. LosingParty is empty for a void resolution.
type ResolvedPayload struct {
	Dispute     challenge.Dispute `json:"dispute"`
	RaisedBy    string            `json:"raised_by"`
	LosingParty string            `json:"losing_party,omitempty"`
	RaiserLost  bool              `json:"raiser_lost"`
}

type DisputeService struct {
	DatabaseService *common.DatabaseService
	Challenges      *challenge.ChallengeService
	Authority       authority.ModeratorAuthority
	Logger          *slog.Logger
	Now             func() time.Time

	// Evidence, when set, checks that cited upload ids exist.
	Evidence *evidence.EvidenceService
}

func NewDisputeService(i do.Injector) (*DisputeService, error) {
	result := &DisputeService{
		DatabaseService: do.MustInvoke[*common.DatabaseService](i),
		Challenges:      do.MustInvoke[*challenge.ChallengeService](i),
		Authority:       do.MustInvoke[authority.ModeratorAuthority](i),
		Evidence:        do.MustInvoke[*evidence.EvidenceService](i),
		Logger:          do.MustInvoke[*slog.Logger](i),
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

func (s *DisputeService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}

	return time.Now().UTC()
}

// Open moves a scored challenge to Disputed, freezes both holds and files
// the dispute record, all in one transaction.
func (s *DisputeService) Open(
	ctx context.Context,
	challengeID, actor, evidenceRef string,
	expected int64) (*challenge.Dispute, error) {
	err := s.checkEvidence(evidenceRef)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	var (
		result  *challenge.Dispute
		outcome challenge.Outcome
	)

	err = s.DatabaseService.Update(func(tx *bolt.Tx) error {
		c, err := challenge.Load(tx, challengeID)
		if err != nil {
			return err
		}

		err = common.CheckVersion(expected, c.Version)
		if err != nil {
			return err
		}

		reported := c.Scores
		now := s.now()

		err = c.Dispute(actor, id.String(), now)
		if err != nil {
			return err
		}

		err = s.Challenges.FreezeTx(tx, c)
		if err != nil {
			return err
		}

		err = challenge.Save(tx, c)
		if err != nil {
			return err
		}

		d := &challenge.Dispute{
			ID:             id.String(),
			ChallengeID:    c.ID,
			RaisedBy:       actor,
			Evidence:       evidenceRef,
			Status:         challenge.DisputeOpen,
			OpenedAt:       now,
			ReportedScores: reported,
		}

		err = challenge.SaveDispute(tx, d)
		if err != nil {
			return err
		}

		result = d

		outcome.Add(c, actor)
		outcome.Events = append(outcome.Events, notify.NewEvent(EventOpened, d.ID, actor, *d))

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("dispute opened",
		slog.String("dispute_id", result.ID),
		slog.String("challenge_id", challengeID),
		slog.String("raised_by", actor),
	)

	s.Challenges.Publish(ctx, outcome)

	return result, nil
}

// checkEvidence accepts free text; only strings shaped like upload ids must
// point at a stored upload.
func (s *DisputeService) checkEvidence(reference string) error {
	if s.Evidence == nil {
		return nil
	}

	_, err := uuid.Parse(reference)
	if err != nil {
		return nil
	}

	_, err = s.Evidence.Index(reference)

	return err
}

type ResolveParams struct {
	Resolution  challenge.Resolution `json:"resolution"`
	FinalScores *challenge.Scores    `json:"final_scores,omitempty"`
}

// Resolve closes a dispute. A win settles the pool to the chosen side; void
// refunds both holds without a fee.
func (s *DisputeService) Resolve(
	ctx context.Context,
	disputeID, moderator string,
	params ResolveParams) (*challenge.Dispute, error) {
	if !s.Authority.IsModerator(moderator) {
		return nil, common.Errorf(common.KindInvalidActor, "only moderators may resolve disputes")
	}

	var (
		result  *challenge.Dispute
		outcome challenge.Outcome
		payload ResolvedPayload
	)

	err := s.DatabaseService.Update(func(tx *bolt.Tx) error {
		d, err := challenge.LoadDispute(tx, disputeID)
		if err != nil {
			return err
		}

		if d.Status != challenge.DisputeOpen {
			return common.Errorf(common.KindWrongState, "dispute %s is %s", d.ID, d.Status)
		}

		c, err := challenge.Load(tx, d.ChallengeID)
		if err != nil {
			return err
		}

		now := s.now()

		err = c.Resolve(moderator, params.Resolution, params.FinalScores, now)
		if err != nil {
			return err
		}

		err = s.Challenges.ThawTx(tx, c)
		if err != nil {
			return err
		}

		if params.Resolution == challenge.ResolutionVoid {
			err = s.Challenges.RefundTx(tx, c)
		} else {
			err = s.Challenges.SettleTx(tx, c)
		}

		if err != nil {
			return err
		}

		err = challenge.Save(tx, c)
		if err != nil {
			return err
		}

		d.Status = challenge.DisputeResolved
		d.ResolvedBy = moderator
		d.Resolution = params.Resolution
		d.FinalScores = c.Scores
		d.ResolvedAt = &now

		err = challenge.SaveDispute(tx, d)
		if err != nil {
			return err
		}

		result = d
		payload = ResolvedPayload{Dispute: *d, RaisedBy: d.RaisedBy}

		if c.WinnerID != "" && params.Resolution != challenge.ResolutionVoid {
			payload.LosingParty = c.LoserID()
			payload.RaiserLost = payload.LosingParty == d.RaisedBy
		}

		outcome.Add(c, moderator)
		outcome.Events = append(outcome.Events, notify.NewEvent(EventResolved, d.ID, moderator, payload))

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("dispute resolved",
		slog.String("dispute_id", result.ID),
		slog.String("challenge_id", result.ChallengeID),
		slog.String("resolution", string(result.Resolution)),
		slog.String("moderator", moderator),
		slog.Bool("raiser_lost", payload.RaiserLost),
	)

	s.Challenges.Publish(ctx, outcome)

	return result, nil
}

func (s *DisputeService) Get(id string) (*challenge.Dispute, error) {
	var result *challenge.Dispute

	err := s.DatabaseService.View(func(tx *bolt.Tx) error {
		var err error

		result, err = challenge.LoadDispute(tx, id)

		return err
	})

	return result, err
}

// ListOpen is the moderator queue, oldest first.
func (s *DisputeService) ListOpen(actor string) ([]*challenge.Dispute, error) {
	if !s.Authority.IsModerator(actor) {
		return nil, common.Errorf(common.KindInvalidActor, "only moderators may list disputes")
	}

	var result []*challenge.Dispute

	err := s.DatabaseService.View(func(tx *bolt.Tx) error {
		var err error

		result, err = challenge.ListDisputes(tx, challenge.DisputeOpen)

		return err
	})

	return result, err
}
