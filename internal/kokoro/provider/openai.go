package provider

import (
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bdobrica/Kokoro/common/redact"
)

// FromOpenAI converts an error returned by the go-openai client into an
// *Error. Transport errors are left to Classify.
func FromOpenAI(providerName, op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.HTTPStatusCode)
		}
		return &Error{
			Provider:   providerName,
			Op:         op,
			Kind:       FromStatus(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Message:    redact.Keys(msg),
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{
			Provider:   providerName,
			Op:         op,
			Kind:       FromStatus(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Message:    http.StatusText(reqErr.HTTPStatusCode),
			Err:        reqErr.Err,
		}
	}
	return Classify(providerName, op, err)
}
