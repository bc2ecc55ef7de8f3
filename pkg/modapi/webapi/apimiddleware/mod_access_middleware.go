package apimiddleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
)

// ModKey is the context key the *modmodel.Mod named in the route is stored under.
const ModKey = "mod"

type GetModByIDFN func(modID int) (*modmodel.Mod, error)

type ModAccessConfig struct {
	Skipper    middleware.Skipper
	GetModByID GetModByIDFN
}

// ModAccessAuth loads the mod named by the :mod_id route param and checks that the user may modify
// it. APIKeyAuth has to run first. Unknown mods and mods the user can't modify both answer 404.
func ModAccessAuth(config ModAccessConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = middleware.DefaultSkipper
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}

			modID, err := strconv.Atoi(c.Param("mod_id"))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "Invalid mod id")
			}

			user := User(c)
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
			}

			mod, err := config.GetModByID(modID)
			if err != nil || !mod.CanBeModifiedBy(user) {
				return echo.NewHTTPError(http.StatusNotFound, "Mod not found")
			}

			c.Set(ModKey, mod)
			return next(c)
		}
	}
}

func Mod(c echo.Context) *modmodel.Mod {
	mod, _ := c.Get(ModKey).(*modmodel.Mod)
	return mod
}
