package api

import (
	"encoding/json"
	"io"
	"net/http"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
)

const maxUpstreamBody = 1 << 20

// do sends req and returns the upstream status and body for a 2xx answer.
// A transport failure is ErrNetwork; any other status is ErrUpstream.
func (s *Server) do(req *http.Request) (int, []byte, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, apperrors.Wrap(apperrors.ErrNetwork, "upstream unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return 0, nil, apperrors.Wrap(apperrors.ErrNetwork, "read upstream response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, nil, apperrors.Upstream(resp.StatusCode, upstreamMessage(resp.StatusCode, body))
	}
	return resp.StatusCode, body, nil
}

// upstreamMessage extracts a readable message from the usual error shapes:
// {"error":"..."}, {"error":{"message":"..."}} and {"message":"..."}.
func upstreamMessage(status int, body []byte) string {
	var shape struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &shape) == nil {
		var text string
		if json.Unmarshal(shape.Error, &text) == nil && text != "" {
			return text
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(shape.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		if shape.Message != "" {
			return shape.Message
		}
	}
	return http.StatusText(status)
}
