package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"go.uber.org/multierr"
)

const reportWindow = 7 * 24 * time.Hour

type recordLister interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]models.AbandonmentRecord, error)
}

// Sink receives finished reports.
type Sink interface {
	Name() string
	Emit(ctx context.Context, report Report) error
}

type WeeklyReporterParams struct {
	Logger  *logger.Logger
	Records recordLister
	Sinks   []Sink
	Now     func() time.Time
}

// WeeklyReporter summarises the trailing seven days of recovery campaigns.
type WeeklyReporter struct {
	logg    *logger.Logger
	records recordLister
	sinks   []Sink
	now     func() time.Time
}

func NewWeeklyReporter(params WeeklyReporterParams) (*WeeklyReporter, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("record repository required")
	}
	if len(params.Sinks) == 0 {
		return nil, fmt.Errorf("at least one sink required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &WeeklyReporter{
		logg:    params.Logger,
		records: params.Records,
		sinks:   params.Sinks,
		now:     now,
	}, nil
}

// Run builds the report and hands it to every sink. A failing sink does not
// keep the others from receiving the report.
func (r *WeeklyReporter) Run(ctx context.Context) (Report, error) {
	end := r.now().UTC()
	start := end.Add(-reportWindow)

	records, err := r.records.ListCreatedBetween(ctx, start, end)
	if err != nil {
		return Report{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list abandonment records")
	}
	report := Build(records, start, end, end)

	var errs error
	for _, sink := range r.sinks {
		if err := sink.Emit(ctx, report); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
		}
	}
	if errs != nil {
		r.logg.Error(r.logg.WithField(ctx, "period_start", start), "weekly report delivery failed", errs)
		return report, errs
	}
	return report, nil
}
