package dispute

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vreid/arena/internal/pkg/common"
)

func (s *DisputeService) Routes(e *echo.Echo) {
	e.POST("/api/challenges/:id/dispute", s.PostDispute)

	disputesGroup := e.Group("/api/disputes")

	disputesGroup.GET("", s.GetDisputes)
	disputesGroup.GET("/:id", s.GetDispute)
	disputesGroup.POST("/:id/resolve", s.PostResolve)
}

type OpenRequest struct {
	Evidence string `json:"evidence"`
}

func (s *DisputeService) PostDispute(c echo.Context) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	expected, err := common.ExpectedVersion(c)
	if err != nil {
		return err
	}

	var req OpenRequest

	err = common.Bind(c, &req)
	if err != nil {
		return err
	}

	result, err := s.Open(c.Request().Context(), c.Param("id"), actor, req.Evidence, expected)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, result)
}

func (s *DisputeService) GetDisputes(c echo.Context) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	result, err := s.ListOpen(actor)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}

func (s *DisputeService) GetDispute(c echo.Context) error {
	result, err := s.Get(c.Param("id"))
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}

func (s *DisputeService) PostResolve(c echo.Context) error {
	actor, err := common.Actor(c)
	if err != nil {
		return err
	}

	var params ResolveParams

	err = common.Bind(c, &params)
	if err != nil {
		return err
	}

	result, err := s.Resolve(c.Request().Context(), c.Param("id"), actor, params)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}
