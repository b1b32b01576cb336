package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/arena/internal/pkg/challenge"
	"github.com/vreid/arena/internal/pkg/common"
	"github.com/vreid/arena/internal/pkg/notify"
	bolt "go.etcd.io/bbolt"
)

const (
	DefaultRating = 1500.0

	confirmedEvent = "challenge." + string(challenge.StatusConfirmed)
)

// Scorecard is a participant's Elo rating for one game.
type Scorecard struct {
	ParticipantID string  `json:"participant_id"`
	Game          string  `json:"game"`
	Rating        float64 `json:"rating"`
	Count         int64   `json:"count"`
	Wins          int64   `json:"wins"`

	Version int64 `json:"version"`
}

func (s *Scorecard) RecordID() string         { return ScorecardKey(s.Game, s.ParticipantID) }
func (s *Scorecard) RecordVersion() int64     { return s.Version }
func (s *Scorecard) SetRecordVersion(v int64) { s.Version = v }

func ScorecardKey(game, participantID string) string {
	return game + "/" + participantID
}

// ScorerService rates players from confirmed challenges. It only reads the
// event stream, so a lagging scorer never holds up a transition.
type ScorerService struct {
	DatabaseService *common.DatabaseService
	Subscriber      message.Subscriber
	Logger          *slog.Logger
}

func NewScorerService(i do.Injector) (*ScorerService, error) {
	result := &ScorerService{
		DatabaseService: do.MustInvoke[*common.DatabaseService](i),
		Subscriber:      do.MustInvoke[*gochannel.GoChannel](i),
		Logger:          do.MustInvoke[*slog.Logger](i),
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

func (s *ScorerService) Routes(e *echo.Echo) {
	ratingsGroup := e.Group("/api/ratings")

	ratingsGroup.GET("/:game", s.GetLeaderboard)
	ratingsGroup.GET("/:game/:participant", s.GetScorecard)
}

func (s *ScorerService) Start(ctx context.Context) error {
	messages, err := s.Subscriber.Subscribe(ctx, notify.Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", notify.Topic, err)
	}

	go s.processEvents(messages)

	return nil
}

func GetKFactor(gamesPlayed int64) float64 {
	if gamesPlayed <= 20 {
		return 128.0
	}

	if gamesPlayed <= 50 {
		return 64.0
	}

	return 32.0
}

func CalculateExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

func UpdateRatings(winner, loser Scorecard) (Scorecard, Scorecard) {
	expectedWinner := CalculateExpectedScore(winner.Rating, loser.Rating)

	k := (GetKFactor(winner.Count) + GetKFactor(loser.Count)) / 2.0
	change := k * (1.0 - expectedWinner)

	winner.Rating += change
	winner.Count++
	winner.Wins++

	loser.Rating -= change
	loser.Count++

	return winner, loser
}

func scorecard(tx *bolt.Tx, game, participantID string) (*Scorecard, error) {
	result, err := common.GetRecord[Scorecard](tx, common.RatingsBucket, ScorecardKey(game, participantID))
	if common.KindOf(err) == common.KindNotFound {
		return &Scorecard{ParticipantID: participantID, Game: game, Rating: DefaultRating}, nil
	}

	return result, err
}

// HandleChallenge rates a confirmed challenge once; replays are ignored.
func (s *ScorerService) HandleChallenge(c challenge.Challenge) error {
	if c.Status != challenge.StatusConfirmed || c.WinnerID == "" {
		return nil
	}

	//nolint:wrapcheck
	return s.DatabaseService.Update(func(tx *bolt.Tx) error {
		rated := tx.Bucket([]byte(common.RatedBucket))
		if rated == nil {
			return fmt.Errorf("%w: %s", common.ErrBucketNotFound, common.RatedBucket)
		}

		if rated.Get([]byte(c.ID)) != nil {
			return nil
		}

		winner, err := scorecard(tx, c.Game, c.WinnerID)
		if err != nil {
			return err
		}

		loser, err := scorecard(tx, c.Game, c.LoserID())
		if err != nil {
			return err
		}

		updatedWinner, updatedLoser := UpdateRatings(*winner, *loser)

		err = common.PutRecord(tx, common.RatingsBucket, &updatedWinner)
		if err != nil {
			return fmt.Errorf("failed to put winner rating: %w", err)
		}

		err = common.PutRecord(tx, common.RatingsBucket, &updatedLoser)
		if err != nil {
			return fmt.Errorf("failed to put loser rating: %w", err)
		}

		//nolint:wrapcheck
		return rated.Put([]byte(c.ID), []byte(c.WinnerID))
	})
}

type challengeEvent struct {
	Type    string              `json:"type"`
	Payload challenge.Challenge `json:"payload"`
}

func (s *ScorerService) processEvents(messages <-chan *message.Message) {
	for msg := range messages {
		if msg.Metadata.Get("event_type") != confirmedEvent {
			msg.Ack()

			continue
		}

		var event challengeEvent

		err := json.Unmarshal(msg.Payload, &event)
		if err == nil {
			err = s.HandleChallenge(event.Payload)
		}

		if err != nil {
			s.Logger.Error("failed to rate challenge",
				slog.String("message_id", msg.UUID),
				slog.String("challenge_id", msg.Metadata.Get("entity_id")),
				slog.Any("error", err),
			)
		}

		msg.Ack()
	}
}

func (s *ScorerService) Leaderboard(game string) ([]*Scorecard, error) {
	result := []*Scorecard{}

	err := s.DatabaseService.View(func(tx *bolt.Tx) error {
		return common.ForEachRecord(tx, common.RatingsBucket, func(card *Scorecard) error {
			if card.Game == game {
				result = append(result, card)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(a, b int) bool {
		return result[a].Rating > result[b].Rating
	})

	return result, nil
}

func (s *ScorerService) GetLeaderboard(c echo.Context) error {
	result, err := s.Leaderboard(c.Param("game"))
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}

func (s *ScorerService) GetScorecard(c echo.Context) error {
	var result *Scorecard

	err := s.DatabaseService.View(func(tx *bolt.Tx) error {
		var err error

		result, err = scorecard(tx, c.Param("game"), c.Param("participant"))

		return err
	})
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}
