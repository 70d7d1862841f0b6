package bq

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// JobError reports a job that finished with a non-empty errorResult.
type JobError struct {
	JobID   string
	Reason  string
	Message string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed: %s: %s", e.JobID, e.Reason, e.Message)
}

// classify maps API status codes onto ErrNotFound and ErrConflict. Other
// provider errors are returned with their message only.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch gerr.Code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, gerr.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, gerr.Message)
	}
	if gerr.Message != "" {
		return fmt.Errorf("bigquery: %s (%d)", gerr.Message, gerr.Code)
	}
	return err
}
