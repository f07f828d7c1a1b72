package lib

import (
	"os"

	"github.com/gravitational/trace"
	"github.com/scopewatch/scopewatch-client/lib/logger"
)

// Bail logs the error and exits with a nonzero exit code. Aggregates are
// unrolled so every underlying error gets its own line.
func Bail(err error) {
	log := logger.Standard()
	if agg, ok := trace.Unwrap(err).(trace.Aggregate); ok {
		for _, err := range agg.Errors() {
			log.WithError(err).Error("Terminating...")
		}
	} else {
		log.WithError(err).Error("Terminating...")
	}
	os.Exit(1)
}
