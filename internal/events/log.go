package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes every event to a zerolog logger.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "events").Logger()}
}

func (s *LogSink) Publish(_ context.Context, evs ...Event) error {
	for _, e := range evs {
		s.log.Info().
			Uint64("seq", e.Seq).
			Str("tx", e.TxID.String()).
			Str("kind", string(e.Kind)).
			Str("user", e.User.String()).
			Str("amount_in", e.AmountIn.String()).
			Str("amount_out", e.AmountOut.String()).
			Msg("event")
	}
	return nil
}
