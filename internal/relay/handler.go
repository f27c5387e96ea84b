package relay

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the relay as an echo route. The route must capture the
// upstream path suffix in the "*" wildcard, e.g. "/api/v1/*".
func Handler(r *Relay) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		var body any
		if req.Body != nil && req.Method != http.MethodGet && req.Method != http.MethodHead {
			data, err := io.ReadAll(req.Body)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, ErrorEnvelope{Error: "Proxy error", Details: err.Error()})
			}
			if len(data) > 0 {
				body = data
			}
		}

		header := req.Header.Clone()
		if req.Host != "" {
			// net/http moves Host out of the header map; keep it visible to
			// the sanitizer so the rule stays in one place.
			header.Set("Host", req.Host)
		}

		resp := r.Do(req.Context(), &Request{
			Method:   req.Method,
			Path:     c.Param("*"),
			RawQuery: req.URL.RawQuery,
			Header:   header,
			Body:     body,
		})

		for k, v := range resp.Header {
			c.Response().Header()[k] = v
		}
		c.Response().WriteHeader(resp.Status)
		_, err := c.Response().Write(resp.Body)
		return err
	}
}
