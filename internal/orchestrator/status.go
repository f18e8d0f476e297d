package orchestrator

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/media_fetcher/internal/logctx"
	"github.com/italolelis/media_fetcher/internal/state"
)

// Status is a point-in-time view of a run.
type Status struct {
	state.Counters

	BytesHuman         string        `json:"bytes_human"`
	EndpointsAvailable int           `json:"endpoints_available"`
	EndpointsTotal     int           `json:"endpoints_total"`
	Workers            int           `json:"workers"`
	Elapsed            time.Duration `json:"-"`
	ElapsedHuman       string        `json:"elapsed"`
}

// Status snapshots the shared state. It only takes the state lock to copy.
func (o *Orchestrator) Status() Status {
	c := o.state.Counters()
	elapsed := time.Since(o.started).Round(time.Second)

	return Status{
		Counters:           c,
		BytesHuman:         humanize.Bytes(uint64(c.Bytes)),
		EndpointsAvailable: len(o.state.ListAvailable()),
		EndpointsTotal:     o.state.EndpointCount(),
		Workers:            o.opts.Workers,
		Elapsed:            elapsed,
		ElapsedHuman:       elapsed.String(),
	}
}

// Summary renders the final counters as one line for notifications.
func (s Status) Summary() string {
	return "media_fetcher finished: " +
		humanize.Comma(s.Stored) + " stored, " +
		humanize.Comma(s.Duplicates) + " duplicates, " +
		humanize.Comma(s.Errors) + " errors, " +
		s.BytesHuman + " in " + s.ElapsedHuman
}

// EmptyStatus is the status of a run that stopped before any worker started.
func EmptyStatus(started time.Time) Status {
	elapsed := time.Since(started).Round(time.Second)

	return Status{
		BytesHuman:   humanize.Bytes(0),
		Elapsed:      elapsed,
		ElapsedHuman: elapsed.String(),
	}
}

// LogSummary writes the final counters to the context logger.
func LogSummary(ctx context.Context, s Status) {
	logctx.LoggerFromContext(ctx).Info("final summary",
		"stored", s.Stored,
		"duplicates", s.Duplicates,
		"errors", s.Errors,
		"bytes", s.BytesHuman,
		"elapsed", s.ElapsedHuman,
	)
}
