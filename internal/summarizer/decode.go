package summarizer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roasbeef/insightd/internal/insight"
)

// decodeResponse turns a success body into a Summary. The service has been
// seen to return the payload as a JSON string holding JSON, and wrapped in a
// {"data": ...} envelope. Both are peeled off here, up to maxUnwrapDepth
// layers, before the structural decode.
func decodeResponse(body []byte) (insight.Summary, error) {
	body = bytes.TrimSpace(body)

	for depth := 0; ; depth++ {
		if len(body) == 0 {
			return insight.Summary{}, &insight.DecodeError{
				Details: "empty response body",
			}
		}
		if depth > maxUnwrapDepth {
			return insight.Summary{}, &insight.DecodeError{
				Details: fmt.Sprintf("more than %d wrapping layers",
					maxUnwrapDepth),
			}
		}

		inner, wrapped, err := unwrap(body)
		if err != nil {
			return insight.Summary{}, err
		}
		if !wrapped {
			break
		}
		body = inner
	}

	var s insight.Summary
	if err := json.Unmarshal(body, &s); err != nil {
		return insight.Summary{}, &insight.DecodeError{
			Details: "summary object",
			Err:     err,
		}
	}
	if s.Summary == "" && s.Description == "" {
		return insight.Summary{}, &insight.DecodeError{
			Details: "response has neither summary nor description",
		}
	}

	return s, nil
}

// unwrap removes one layer of string encoding or data envelope.
func unwrap(body []byte) ([]byte, bool, error) {
	switch body[0] {
	case '"':
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return nil, false, &insight.DecodeError{
				Details: "string encoded body",
				Err:     err,
			}
		}

		return bytes.TrimSpace([]byte(inner)), true, nil

	case '{':
		var env map[string]json.RawMessage
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, false, &insight.DecodeError{
				Details: "response object",
				Err:     err,
			}
		}

		data, hasData := env["data"]
		_, hasSummary := env["summary"]
		if !hasData || hasSummary {
			return body, false, nil
		}

		return bytes.TrimSpace(data), true, nil

	default:
		return nil, false, &insight.DecodeError{
			Details: fmt.Sprintf("unexpected body start %q", body[0]),
		}
	}
}

// errorBody is the error shape of the service. error is either a string or
// an object carrying its own message and code.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

// decodeError extracts the message and code of a non-2xx body, falling back
// to the raw body as the message.
func decodeError(body []byte) (string, string) {
	body = bytes.TrimSpace(body)

	var e errorBody
	if err := json.Unmarshal(body, &e); err != nil {
		return string(body), ""
	}

	msg, code := e.Message, e.Code
	if len(e.Error) > 0 {
		var s string
		if json.Unmarshal(e.Error, &s) == nil {
			msg = s
		} else {
			var nested struct {
				Message string `json:"message"`
				Code    string `json:"code"`
			}
			if json.Unmarshal(e.Error, &nested) == nil {
				if nested.Message != "" {
					msg = nested.Message
				}
				if nested.Code != "" {
					code = nested.Code
				}
			}
		}
	}
	if msg == "" {
		msg = string(body)
	}

	return msg, code
}
