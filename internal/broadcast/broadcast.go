// Package broadcast fans one admin message out to every non-blocked user.
//
// The target set is snapshotted when the job starts. Sends run with bounded
// concurrency, each under its own timeout; one failed target never stops the
// others. Cancelling the context stops new sends; sends already issued are
// not retracted.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/notepid/relaybot/internal/metrics"
	"github.com/notepid/relaybot/internal/transport"
)

// ErrNoTargets is returned when the snapshot holds no recipients.
var ErrNoTargets = errors.New("broadcast: no targets")

// Prefix is prepended to every broadcast message.
const Prefix = "Announcement:\n\n"

// Targets supplies the recipient snapshot.
type Targets interface {
	ActiveUserIDs() ([]string, error)
}

// Config bounds fan-out.
type Config struct {
	Concurrency int
	SendTimeout time.Duration
	// PerSecond paces sends across the whole job; 0 disables pacing.
	PerSecond float64
}

// Outcome is the per-target state of a job.
type Outcome int

const (
	Pending Outcome = iota
	Delivered
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Job is one in-flight broadcast. It is not persisted.
type Job struct {
	ID        string
	Initiator string
	Content   string
	Targets   []string
	Outcomes  []Outcome
}

// Result summarizes a finished job. Targets still pending when the job was
// cancelled are counted in Skipped.
type Result struct {
	JobID     string
	Targets   int
	Sent      int
	Failed    int
	FailedIDs []string
	Skipped   int
	Elapsed   time.Duration
}

// Dispatcher runs broadcast jobs.
type Dispatcher struct {
	targets Targets
	sink    transport.Sink
	cfg     Config
}

// New creates a dispatcher.
func New(targets Targets, sink transport.Sink, cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Dispatcher{targets: targets, sink: sink, cfg: cfg}
}

// Snapshot returns the ids a broadcast from initiatorID would target now.
func (d *Dispatcher) Snapshot(initiatorID string) ([]string, error) {
	ids, err := d.targets.ActiveUserIDs()
	if err != nil {
		return nil, fmt.Errorf("broadcast snapshot: %w", err)
	}
	out := ids[:0:0]
	for _, id := range ids {
		if id != initiatorID {
			out = append(out, id)
		}
	}
	return out, nil
}

// Broadcast sends content to the current snapshot. It fails only when the
// snapshot cannot be taken or is empty.
func (d *Dispatcher) Broadcast(ctx context.Context, content, initiatorID string) (Result, error) {
	ids, err := d.Snapshot(initiatorID)
	if err != nil {
		return Result{}, err
	}
	if len(ids) == 0 {
		return Result{}, ErrNoTargets
	}

	job := &Job{
		ID:        uuid.NewString(),
		Initiator: initiatorID,
		Content:   content,
		Targets:   ids,
		Outcomes:  make([]Outcome, len(ids)),
	}
	return d.Run(ctx, job), nil
}

// Run executes job. Each goroutine writes only its own Outcomes slot.
func (d *Dispatcher) Run(ctx context.Context, job *Job) Result {
	start := time.Now()
	logger := log.With().Str("job", job.ID).Str("admin", job.Initiator).Logger()
	logger.Info().Int("targets", len(job.Targets)).Msg("broadcast started")

	var limiter *rate.Limiter
	if d.cfg.PerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.PerSecond), d.cfg.Concurrency)
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)

	text := Prefix + job.Content
	for i, id := range job.Targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			if ctx.Err() != nil {
				return nil
			}

			sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
			defer cancel()
			if err := d.sink.Send(sendCtx, transport.Message{TargetID: id, Content: text}); err != nil {
				logger.Warn().Err(err).Str("user", id).Msg("broadcast send failed")
				job.Outcomes[i] = Failed
				return nil
			}
			job.Outcomes[i] = Delivered
			return nil
		})
	}
	_ = g.Wait()

	res := Result{JobID: job.ID, Targets: len(job.Targets), Elapsed: time.Since(start)}
	for i, o := range job.Outcomes {
		switch o {
		case Delivered:
			res.Sent++
		case Failed:
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, job.Targets[i])
		default:
			res.Skipped++
		}
	}
	sort.Strings(res.FailedIDs)

	metrics.BroadcastTargets.WithLabelValues("delivered").Add(float64(res.Sent))
	metrics.BroadcastTargets.WithLabelValues("failed").Add(float64(res.Failed))
	metrics.BroadcastTargets.WithLabelValues("skipped").Add(float64(res.Skipped))

	logger.Info().
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Dur("elapsed", res.Elapsed).
		Msg("broadcast finished")
	return res
}
