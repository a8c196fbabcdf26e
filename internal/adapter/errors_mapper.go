package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/MKhiriev/go-sync-engine/models"
)

func mapHTTPError(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}

	body := strings.TrimSpace(string(resp.Body()))

	// a JSON error body wins over the status code
	var errResp models.ErrorResponse
	if json.Unmarshal(resp.Body(), &errResp) == nil && errResp.Error != "" {
		body = errResp.Error
	}
	switch errResp.Code {
	case models.ErrorCodeNotMyBirthday:
		return fmt.Errorf("%w: %s", ErrNotMyBirthday, body)
	case models.ErrorCodeStopSyncing:
		return fmt.Errorf("%w: %s", ErrStopSyncing, body)
	case models.ErrorCodeThrottled:
		return fmt.Errorf("%w: %s", ErrThrottled, body)
	case models.ErrorCodeHashMismatch:
		return fmt.Errorf("%w: integrity check failed: %s", ErrBadRequest, body)
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, body)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, body)
	case http.StatusGone:
		return fmt.Errorf("%w: %s", ErrStopSyncing, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrThrottled, body)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("%w: http %d: %s", ErrServerError, resp.StatusCode(), body)
	}

	if body == "" {
		body = http.StatusText(resp.StatusCode())
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode(), body)
}
