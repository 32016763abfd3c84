package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/stocksync/pkg/errors"
)

// errorEnvelope mirrors the error half of httputil.Response.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads a non-2xx response and converts it to an AppError
// that keeps the remote code and status. The response body is consumed.
func ParseResponseError(resp *http.Response, service string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Code != "" {
		return apperrors.New(env.Error.Code, env.Error.Message, resp.StatusCode, sentinelFor(resp.StatusCode))
	}

	msg := fmt.Sprintf("%s returned status %d", service, resp.StatusCode)
	return apperrors.New("UPSTREAM_ERROR", msg, resp.StatusCode, sentinelFor(resp.StatusCode))
}

func sentinelFor(status int) error {
	switch {
	case status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case status == http.StatusConflict:
		return apperrors.ErrConflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.ErrInvalidInput
	case status == http.StatusServiceUnavailable:
		return apperrors.ErrServiceUnavail
	default:
		return apperrors.ErrInternal
	}
}
