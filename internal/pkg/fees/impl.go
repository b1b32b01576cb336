package fees

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/arena/internal/pkg/authority"
	"github.com/vreid/arena/internal/pkg/common"
	bolt "go.etcd.io/bbolt"
)

const (
	MaxBasisPoints = 10000

	// MaxStake keeps the pool, and so either hold, within int64.
	MaxStake = math.MaxInt64 / 2

	scheduleKey = "fee-schedule"
)

func (s Schedule) Validate() error {
	if s.BasisPoints < 0 || s.BasisPoints > MaxBasisPoints {
		return common.Errorf(common.KindInvalidArgument, "basis points must be within 0..%d", MaxBasisPoints)
	}

	if s.Minimum < 0 {
		return common.Errorf(common.KindInvalidArgument, "minimum fee must not be negative")
	}

	return nil
}

// Portion returns bps basis points of amount, rounded down, without
// overflowing for any non-negative amount.
func Portion(amount, bps int64) int64 {
	return amount/MaxBasisPoints*bps + amount%MaxBasisPoints*bps/MaxBasisPoints
}

// Calculate quotes a wager of stake per side. The fee is taken from the pool
// and never exceeds it; the creator carries the odd unit of the split.
func Calculate(stake int64, schedule Schedule) (Quote, error) {
	if stake < 0 {
		return Quote{}, common.Errorf(common.KindInvalidArgument, "stake must not be negative")
	}

	if stake > MaxStake {
		return Quote{}, common.Errorf(common.KindInvalidArgument, "stake must not exceed %d", int64(MaxStake))
	}

	err := schedule.Validate()
	if err != nil {
		return Quote{}, err
	}

	pool := 2 * stake

	fee := Portion(pool, schedule.BasisPoints)
	if stake > 0 && fee < schedule.Minimum {
		fee = schedule.Minimum
	}

	if fee > pool {
		fee = pool
	}

	opponentShare := fee / 2

	return Quote{
		Stake:         stake,
		Pool:          pool,
		Fee:           fee,
		CreatorShare:  fee - opponentShare,
		OpponentShare: opponentShare,
		Payout:        pool - fee,
	}, nil
}

// FeeService holds the live schedule. Challenges copy it at creation; edits
// here never reach existing challenges.
type FeeService struct {
	DatabaseService *common.DatabaseService
	Authority       authority.ModeratorAuthority
	Logger          *slog.Logger

	mu       sync.RWMutex
	schedule Schedule
}

func NewFeeService(i do.Injector) (*FeeService, error) {
	seed := Schedule{
		BasisPoints: do.MustInvokeNamed[int64](i, "fee-basis-points"),
		Minimum:     do.MustInvokeNamed[int64](i, "fee-minimum"),
	}

	result, err := LoadFeeService(
		do.MustInvoke[*common.DatabaseService](i),
		do.MustInvoke[authority.ModeratorAuthority](i),
		do.MustInvoke[*slog.Logger](i),
		seed,
	)
	if err != nil {
		return nil, err
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

// LoadFeeService restores the persisted schedule, storing seed when none exists.
func LoadFeeService(
	databaseService *common.DatabaseService,
	moderators authority.ModeratorAuthority,
	logger *slog.Logger,
	seed Schedule) (*FeeService, error) {
	err := seed.Validate()
	if err != nil {
		return nil, err
	}

	schedule := seed

	err = databaseService.Update(func(tx *bolt.Tx) error {
		settings := tx.Bucket([]byte(common.SettingsBucket))
		if settings == nil {
			return common.ErrBucketNotFound
		}

		if data := settings.Get([]byte(scheduleKey)); data != nil {
			return json.Unmarshal(data, &schedule)
		}

		return putSchedule(tx, seed)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load fee schedule: %w", err)
	}

	return &FeeService{
		DatabaseService: databaseService,
		Authority:       moderators,
		Logger:          logger,
		schedule:        schedule,
	}, nil
}

func putSchedule(tx *bolt.Tx, schedule Schedule) error {
	data, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal fee schedule: %w", err)
	}

	//nolint:wrapcheck
	return tx.Bucket([]byte(common.SettingsBucket)).Put([]byte(scheduleKey), data)
}

func (s *FeeService) Current() Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.schedule
}

func (s *FeeService) Replace(actor string, schedule Schedule) error {
	if !s.Authority.IsModerator(actor) {
		return common.Errorf(common.KindInvalidActor, "only moderators may change the fee schedule")
	}

	err := schedule.Validate()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.DatabaseService.Update(func(tx *bolt.Tx) error {
		return putSchedule(tx, schedule)
	})
	if err != nil {
		return err
	}

	s.schedule = schedule

	s.Logger.Info("fee schedule replaced",
		slog.String("actor", actor),
		slog.Int64("basis_points", schedule.BasisPoints),
		slog.Int64("minimum", schedule.Minimum),
	)

	return nil
}

func (s *FeeService) Routes(e *echo.Echo) {
	feesGroup := e.Group("/api/fees")

	feesGroup.GET("", s.GetSchedule)
	feesGroup.PUT("", s.PutSchedule)
	feesGroup.GET("/quote", s.GetQuote)
}

func (s *FeeService) GetSchedule(c echo.Context) error {
	//nolint:wrapcheck
	return c.JSON(http.StatusOK, s.Current())
}

func (s *FeeService) PutSchedule(c echo.Context) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	var schedule Schedule

	err = common.Bind(c, &schedule)
	if err != nil {
		return err
	}

	err = s.Replace(actor, schedule)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, schedule)
}

func (s *FeeService) GetQuote(c echo.Context) error {
	var stake int64

	err := echo.QueryParamsBinder(c).MustInt64("stake", &stake).BindError()
	if err != nil {
		return common.Errorf(common.KindInvalidArgument, "stake query parameter is required")
	}

	quote, err := Calculate(stake, s.Current())
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, quote)
}
