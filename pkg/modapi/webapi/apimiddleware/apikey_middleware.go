package apimiddleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
)

// UserKey is the context key the authenticated *modmodel.User is stored under.
const UserKey = "user"

type GetUserByAPIKeyFN func(string) (*modmodel.User, error)

type APIKeyConfig struct {
	Skipper         middleware.Skipper
	Keyname         string
	GetUserByAPIKey GetUserByAPIKeyFN
}

// APIKeyAuth looks up the user owning the api key passed as header or query param and stores it in
// the context under UserKey.
func APIKeyAuth(config APIKeyConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = middleware.DefaultSkipper
	}

	if config.Keyname == "" {
		config.Keyname = "apikey"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}

			value, err := getAPIKeyFromRequest(config.Keyname, c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			user, err := config.GetUserByAPIKey(value)
			switch {
			case err != nil:
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid api key")
			case user == nil:
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid api key")
			default:
				c.Set(UserKey, user)
				return next(c)
			}
		}
	}
}

// User returns the user APIKeyAuth stored, or nil.
func User(c echo.Context) *modmodel.User {
	user, _ := c.Get(UserKey).(*modmodel.User)
	return user
}

func getAPIKeyFromRequest(key string, c echo.Context) (string, error) {
	if value := c.Request().Header.Get(key); value != "" {
		return value, nil
	}

	if value := c.QueryParam(key); value != "" {
		return value, nil
	}

	return "", fmt.Errorf("no apikey '%s' as query param or header", key)
}
