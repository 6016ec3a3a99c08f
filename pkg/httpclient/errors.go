package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
)

// downstreamError matches the {"error":{"code","message"}} envelope written
// by httputil.WriteError.
type downstreamError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// turns it into an error. Structured envelopes keep their code and message.
// Anything else is reported with the status and the raw body.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	code, message := "", string(body)
	var env downstreamError
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		code, message = env.Error.Code, env.Error.Message
	}

	return mapDownstreamError(resp.StatusCode, code, message, serviceName)
}

func mapDownstreamError(status int, code, message, serviceName string) error {
	qualified := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.New("NOT_FOUND", qualified, http.StatusNotFound, apperrors.ErrNotFound)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(qualified)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualified)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(qualified)
	case status >= 500:
		// Upstream failures surface to storefront callers as 503.
		return apperrors.New("SERVICE_UNAVAILABLE", qualified, http.StatusServiceUnavailable,
			fmt.Errorf("%w: status %d %s", apperrors.ErrServiceUnavail, status, code))
	case code != "":
		return apperrors.New(code, qualified, status, nil)
	default:
		return fmt.Errorf("%s returned status %d: %s", serviceName, status, message)
	}
}

// IsClientError reports whether status is a 4xx.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
