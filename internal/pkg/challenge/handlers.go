package challenge

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vreid/arena/internal/pkg/common"
)

func (s *ChallengeService) Routes(e *echo.Echo) {
	challengesGroup := e.Group("/api/challenges")

	challengesGroup.POST("", s.PostChallenge)
	challengesGroup.GET("", s.GetChallenges)
	challengesGroup.GET("/:id", s.GetChallenge)
	challengesGroup.PATCH("/:id", s.PatchChallenge)
	challengesGroup.POST("/:id/accept", s.command(s.Accept))
	challengesGroup.POST("/:id/cancel", s.command(s.Cancel))
	challengesGroup.POST("/:id/score", s.PostScore)
	challengesGroup.POST("/:id/confirm", s.command(s.ConfirmScore))
	challengesGroup.POST("/:id/mutual-cancel", s.command(s.RequestMutualCancel))
	challengesGroup.POST("/:id/mutual-cancel/confirm", s.command(s.ConfirmMutualCancel))
	challengesGroup.POST("/:id/mutual-cancel/decline", s.command(s.DeclineMutualCancel))
}

type ScoreRequest struct {
	Creator  *int64 `json:"creator"`
	Opponent *int64 `json:"opponent"`
}

type commandFunc func(ctx context.Context, id, actor string, expected int64) (*Challenge, error)

func (s *ChallengeService) command(fn commandFunc) echo.HandlerFunc {
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

func (s *ChallengeService) PostChallenge(c echo.Context) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	var params CreateParams

	err = common.Bind(c, &params)
	if err != nil {
		return err
	}

	params.CreatorID = actor

	result, err := s.Create(c.Request().Context(), params)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, result)
}

func (s *ChallengeService) GetChallenge(c echo.Context) error {
	result, err := s.Get(c.Param("id"))
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}

func (s *ChallengeService) GetChallenges(c echo.Context) error {
	participant := c.QueryParam("participant")
	if participant == "" {
		return common.Errorf(common.KindInvalidArgument, "participant query parameter is required")
	}

	result, err := s.List(participant, c.QueryParam("all") == "true")
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}

func (s *ChallengeService) PatchChallenge(c echo.Context) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	expected, err := common.ExpectedVersion(c)
	if err != nil {
		return err
	}

	var params EditParams

	err = common.Bind(c, &params)
	if err != nil {
		return err
	}

	result, err := s.Edit(c.Request().Context(), c.Param("id"), actor, expected, params)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}

func (s *ChallengeService) PostScore(c echo.Context) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	expected, err := common.ExpectedVersion(c)
	if err != nil {
		return err
	}

	var req ScoreRequest

	err = c.Bind(&req)
	if err != nil {
		// Fractional or non-numeric scores fail to decode into int64.
		return common.Errorf(common.KindInvalidScore, "scores must be integers")
	}

	if req.Creator == nil || req.Opponent == nil {
		return common.Errorf(common.KindInvalidScore, "both scores are required")
	}

	scores := Scores{Creator: *req.Creator, Opponent: *req.Opponent}

	result, err := s.ReportScore(c.Request().Context(), c.Param("id"), actor, expected, scores)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}
