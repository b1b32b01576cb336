package tournament

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vreid/arena/internal/pkg/common"
)

func (s *TournamentService) Routes(e *echo.Echo) {
	tournamentsGroup := e.Group("/api/tournaments")

	tournamentsGroup.POST("", s.PostTournament)
	tournamentsGroup.GET("", s.GetTournaments)
	tournamentsGroup.GET("/:id", s.GetTournament)
	tournamentsGroup.GET("/:id/standings", s.GetStandings)
	tournamentsGroup.POST("/:id/join", s.command(s.Join))
	tournamentsGroup.POST("/:id/start", s.command(s.Start))
	tournamentsGroup.POST("/:id/cancel", s.command(s.Cancel))
	tournamentsGroup.POST("/:id/retry", s.command(s.RetryInstantiation))
	tournamentsGroup.POST("/:id/matches/:match/result", s.PostMatchResult)
}

type MatchResultRequest struct {
	WinnerID string `json:"winner_id"`
}

type commandFunc func(ctx context.Context, id, actor string, expected int64) (*Tournament, error)

func (s *TournamentService) command(fn commandFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := common.Actor(c)
		if err != nil {
			return err
		}

		expected, err := common.ExpectedVersion(c)
		if err != nil {
			return err
		}

		result, err := fn(c.Request().Context(), c.Param("id"), actor, expected)
		if err != nil {
			return err
		}

		//nolint:wrapcheck
		return c.JSON(http.StatusOK, result)
	}
}

func (s *TournamentService) PostTournament(c echo.Context) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	var params CreateParams

	err = common.Bind(c, &params)
	if err != nil {
		return err
	}

	params.HostID = actor

	result, err := s.Create(c.Request().Context(), params)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, result)
}

func (s *TournamentService) GetTournaments(c echo.Context) error {
	result, err := s.List(Status(c.QueryParam("status")))
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}

func (s *TournamentService) GetTournament(c echo.Context) error {
	result, err := s.Get(c.Param("id"))
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}

func (s *TournamentService) GetStandings(c echo.Context) error {
	result, err := s.Get(c.Param("id"))
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result.Standings())
}

func (s *TournamentService) PostMatchResult(c echo.Context) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	var req MatchResultRequest

	err = common.Bind(c, &req)
	if err != nil {
		return err
	}

	if req.WinnerID == "" {
		return common.Errorf(common.KindInvalidArgument, "winner_id is required")
	}

	result, err := s.ReportMatchResult(c.Request().Context(), c.Param("id"), c.Param("match"), req.WinnerID, actor)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}
