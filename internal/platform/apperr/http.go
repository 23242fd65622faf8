package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// HTTPErrorHandler returns an echo error handler that maps domain error
// kinds to HTTP statuses. Anything that is not a domain error or an
// *echo.HTTPError becomes a 500 and is logged with its request id.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var ve *ValidationError
		if errors.As(err, &ve) {
			_ = c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  ve.Message(),
				"fields": ve.Fields,
			})
			return
		}

		var de *Error
		if errors.As(err, &de) {
			status := http.StatusInternalServerError
			switch de.Kind {
			case KindValidation:
				status = http.StatusUnprocessableEntity
			case KindNotFound:
				status = http.StatusNotFound
			case KindConflict:
				status = http.StatusConflict
			case KindImportParse:
				status = http.StatusBadRequest
			case KindRetriable:
				status = http.StatusServiceUnavailable
			}
			_ = c.JSON(status, map[string]string{"error": de.Msg})
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, map[string]interface{}{"error": he.Message})
			return
		}

		rid, _ := c.Get("request_id").(string)
		logger.Error().Err(err).Str("request_id", rid).Msg("unhandled error")
		_ = c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
