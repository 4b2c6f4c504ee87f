package http

import (
	"github.com/labstack/echo/v4"

	xutil "TPMForge/pkg/util"
)

// QueryInt reads an integer query parameter clamped to [lo, hi].
func QueryInt(c echo.Context, name string, def, lo, hi int) int {
	return min(max(xutil.ParseIntDefault(c.QueryParam(name), def), lo), hi)
}
