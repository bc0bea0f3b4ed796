package materializer

import (
	"context"
	"fmt"
	"log/slog"

	"timeslot-service/pkg/sl"

	"github.com/robfig/cron/v3"
)

// HorizonMaterializer is the nightly job that keeps the rolling slot horizon
// generated for every active pattern.
type HorizonMaterializer interface {
	MaterializeHorizon(ctx context.Context) (string, error)
}

type Materializer struct {
	cron *cron.Cron
	log  *slog.Logger
}

// New schedules svc.MaterializeHorizon on the given cron spec. The job is
// idempotent, so an overlapping or repeated run is harmless.
func New(spec string, svc HorizonMaterializer, log *slog.Logger) (*Materializer, error) {
	const op = "materializer.New"

	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		jobID, err := svc.MaterializeHorizon(context.Background())
		if err != nil {
			log.Error("Horizon materialization failed", sl.Err(err),
				slog.String("job_id", jobID))
			return
		}

		log.Info("Horizon materialized", slog.String("job_id", jobID))
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Materializer{cron: c, log: log}, nil
}

func (m *Materializer) Start() {
	m.cron.Start()
	m.log.Info("Materializer started")
}

// Stop halts scheduling and waits for a running job to finish.
func (m *Materializer) Stop() {
	if m == nil {
		return
	}

	<-m.cron.Stop().Done()
	m.log.Info("Materializer stopped")
}
