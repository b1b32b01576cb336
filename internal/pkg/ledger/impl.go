package ledger

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/arena/internal/pkg/authority"
	"github.com/vreid/arena/internal/pkg/common"
	bolt "go.etcd.io/bbolt"
)

type LedgerService struct {
	DatabaseService *common.DatabaseService
	Authority       authority.ModeratorAuthority
	Logger          *slog.Logger

	// Treasury is the account platform fees are paid into.
	Treasury string
}

func NewLedgerService(i do.Injector) (*LedgerService, error) {
	result := &LedgerService{
		DatabaseService: do.MustInvoke[*common.DatabaseService](i),
		Authority:       do.MustInvoke[authority.ModeratorAuthority](i),
		Logger:          do.MustInvoke[*slog.Logger](i),
		Treasury:        do.MustInvokeNamed[string](i, "platform-account"),
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

func (s *LedgerService) Routes(e *echo.Echo) {
	accountsGroup := e.Group("/api/accounts")

	accountsGroup.GET("/:id", s.GetBalances)
	accountsGroup.POST("/:id/deposit", s.PostDeposit)
	accountsGroup.POST("/:id/withdraw", s.PostWithdraw)
}

// Deposit credits funds that arrived through the custody backend.
func (s *LedgerService) Deposit(actor, participant string, asset Asset, amount int64) error {
	if !s.Authority.IsModerator(actor) {
		return common.Errorf(common.KindInvalidActor, "only moderators may credit accounts")
	}

	err := asset.Validate()
	if err != nil {
		return err
	}

	err = s.DatabaseService.Update(func(tx *bolt.Tx) error {
		return Deposit(tx, participant, asset, amount)
	})
	if err != nil {
		return err
	}

	s.Logger.Info("deposit",
		slog.String("participant", participant),
		slog.String("asset", string(asset)),
		slog.Int64("amount", amount),
	)

	return nil
}

func (s *LedgerService) Withdraw(actor, participant string, asset Asset, amount int64) error {
	if common.PlatformAccount(participant, s.Treasury) {
		return common.Errorf(common.KindInvalidActor, "platform account %s cannot be withdrawn from", participant)
	}

	if actor != participant {
		return common.Errorf(common.KindInvalidActor, "only the owner may withdraw")
	}

	err := asset.Validate()
	if err != nil {
		return err
	}

	err = s.DatabaseService.Update(func(tx *bolt.Tx) error {
		return Withdraw(tx, participant, asset, amount)
	})
	if err != nil {
		return err
	}

	s.Logger.Info("withdrawal",
		slog.String("participant", participant),
		slog.String("asset", string(asset)),
		slog.Int64("amount", amount),
	)

	return nil
}

func (s *LedgerService) Balances(participant string) ([]Balance, error) {
	var result []Balance

	err := s.DatabaseService.View(func(tx *bolt.Tx) error {
		var err error

		result, err = Balances(tx, participant)

		return err
	})

	return result, err
}

type AmountRequest struct {
	Asset  Asset `json:"asset"`
	Amount int64 `json:"amount"`
}

func (s *LedgerService) GetBalances(c echo.Context) error {
	balances, err := s.Balances(c.Param("id"))
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, balances)
}

func (s *LedgerService) PostDeposit(c echo.Context) error {
	return s.moveFunds(c, s.Deposit)
}

func (s *LedgerService) PostWithdraw(c echo.Context) error {
	return s.moveFunds(c, s.Withdraw)
}

func (s *LedgerService) moveFunds(c echo.Context, move func(actor, participant string, asset Asset, amount int64) error) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	var req AmountRequest

	err = common.Bind(c, &req)
	if err != nil {
		return err
	}

	participant := c.Param("id")

	err = move(actor, participant, req.Asset, req.Amount)
	if err != nil {
		return err
	}

	return s.GetBalances(c)
}
