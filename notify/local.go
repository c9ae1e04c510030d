package notify

import (
	"context"

	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/rs/zerolog"
)

// Local writes the message to the process log.
type Local struct {
	logger zerolog.Logger
}

func NewLocal(logger zerolog.Logger) *Local {
	return &Local{logger: logger}
}

func (l *Local) Name() string {
	return config.NotifierLocal
}

func (l *Local) Send(_ context.Context, msg Message) error {
	l.logger.Warn().
		Str("account", msg.Account).
		Str("reason", string(msg.Reason)).
		Str("url", msg.URL).
		Msg(msg.Title())
	return nil
}
