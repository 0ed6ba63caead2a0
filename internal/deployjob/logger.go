package deployjob

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// NewLogger builds the job's structured logger. Debug mode switches to the
// development encoder and unlocks verbosity level 1, which carries the
// per-poll rollout detail and mirrored remote output.
func NewLogger(debug bool) logr.Logger {
	var (
		zl  *zap.Logger
		err error
	)
	if debug {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}

	return zapr.NewLogger(zl)
}
