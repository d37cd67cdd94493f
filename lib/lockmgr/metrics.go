package lockmgr

import (
	"errors"
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"strings"
	"time"
)

const (
	opAcquire = "acquire"
	opRefresh = "refresh"
	opRelease = "release"
)

// resultLabel maps the outcome of an operation to a metric label value.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var lae *LockAcquisitionError
	if errors.As(err, &lae) {
		return strings.ToLower(lae.Kind.String())
	}
	return "invalid_argument"
}

func record(op, result string, start time.Time) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dlock_%s_total{result=%q}`, op, result)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`dlock_operation_duration_seconds{op=%q}`, op)).UpdateDuration(start)
}

// observe is deferred by acquire and refresh with a pointer to the named error result.
func observe(op string, start time.Time, err *error) {
	record(op, resultLabel(*err), start)
}

func observeRelease(start time.Time, released bool, err error) {
	result := resultLabel(err)
	if err == nil && !released {
		result = "not_held"
	}
	record(opRelease, result, start)
}
