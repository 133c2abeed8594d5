package reporting

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var reportNow = time.Date(2026, 6, 8, 6, 0, 0, 0, time.UTC)

func ts(d time.Duration) *time.Time {
	t := reportNow.Add(-d)
	return &t
}

func sampleRecords() []models.AbandonmentRecord {
	return []models.AbandonmentRecord{
		{
			ID: uuid.New(), CartValueCents: 5000, RecoveredValueCents: 5400,
			Status: enums.AbandonmentStatusRecovered,
			Stages: models.StageLogs{
				enums.ReminderStage1h: {SentAt: ts(48 * time.Hour), OpenedAt: ts(47 * time.Hour), ClickedAt: ts(47 * time.Hour), ConvertedAt: ts(46 * time.Hour)},
			},
		},
		{
			ID: uuid.New(), CartValueCents: 2000,
			Status: enums.AbandonmentStatusLost,
			Stages: models.StageLogs{
				enums.ReminderStage1h:  {SentAt: ts(100 * time.Hour), OpenedAt: ts(99 * time.Hour)},
				enums.ReminderStage24h: {SentAt: ts(77 * time.Hour)},
				enums.ReminderStage72h: {SkippedReason: "no_contact"},
			},
		},
		{
			ID: uuid.New(), CartValueCents: 1000,
			Status: enums.AbandonmentStatusReminding,
			Stages: models.StageLogs{
				enums.ReminderStage1h: {SentAt: ts(3 * time.Hour)},
			},
		},
	}
}

func TestBuildAggregatesFunnel(t *testing.T) {
	report := Build(sampleRecords(), reportNow.Add(-reportWindow), reportNow, reportNow)

	assert.Equal(t, 3, report.Abandoned)
	assert.Equal(t, int64(8000), report.AbandonedValueCents)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, int64(5400), report.RecoveredValueCents)
	assert.Equal(t, 1, report.Lost)
	assert.Equal(t, "33.33", report.RecoveryRate.StringFixed(2))

	require.Len(t, report.Stages, 3)
	first := report.Stages[0]
	assert.Equal(t, enums.ReminderStage1h, first.Stage)
	assert.Equal(t, 3, first.Sent)
	assert.Equal(t, 2, first.Opened)
	assert.Equal(t, 1, first.Clicked)
	assert.Equal(t, 1, first.Converted)
	assert.Equal(t, "66.67", first.OpenRate.StringFixed(2))
	assert.Equal(t, "33.33", first.ClickRate.StringFixed(2))

	last := report.Stages[2]
	assert.Equal(t, 0, last.Sent)
	assert.Equal(t, 1, last.Skipped)
	assert.True(t, last.OpenRate.IsZero())
}

func TestBuildEmptyPeriod(t *testing.T) {
	report := Build(nil, reportNow.Add(-reportWindow), reportNow, reportNow)
	assert.Equal(t, 0, report.Abandoned)
	assert.True(t, report.RecoveryRate.IsZero())
	assert.Len(t, report.Stages, 3)
}

type fakeLister struct {
	from, to time.Time
	records  []models.AbandonmentRecord
	err      error
}

func (f *fakeLister) ListCreatedBetween(_ context.Context, from, to time.Time) ([]models.AbandonmentRecord, error) {
	f.from, f.to = from, to
	return f.records, f.err
}

type recordingSink struct {
	name    string
	reports []Report
	err     error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Emit(_ context.Context, report Report) error {
	s.reports = append(s.reports, report)
	return s.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "reporting-test", Level: zerolog.Disabled, Output: io.Discard})
}

func TestWeeklyReporterUsesTrailingWeekAndEverySink(t *testing.T) {
	lister := &fakeLister{records: sampleRecords()}
	broken := &recordingSink{name: "broken", err: errors.New("down")}
	healthy := &recordingSink{name: "healthy"}
	reporter, err := NewWeeklyReporter(WeeklyReporterParams{
		Logger:  testLogger(),
		Records: lister,
		Sinks:   []Sink{broken, healthy},
		Now:     func() time.Time { return reportNow },
	})
	require.NoError(t, err)

	report, err := reporter.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken sink")
	assert.True(t, lister.from.Equal(reportNow.AddDate(0, 0, -7)))
	assert.True(t, lister.to.Equal(reportNow))
	assert.Equal(t, 3, report.Abandoned)
	require.Len(t, healthy.reports, 1)
	assert.Equal(t, report.Recovered, healthy.reports[0].Recovered)
}

func TestWeeklyReporterListFailure(t *testing.T) {
	reporter, err := NewWeeklyReporter(WeeklyReporterParams{
		Logger:  testLogger(),
		Records: &fakeLister{err: errors.New("db")},
		Sinks:   []Sink{&recordingSink{name: "log"}},
	})
	require.NoError(t, err)
	_, err = reporter.Run(context.Background())
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}

type fakeInserter struct {
	table string
	rows  []any
	err   error
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.table = table
	f.rows = rows
	return f.err
}

func TestBigQuerySinkStreamsRowWithStableInsertID(t *testing.T) {
	inserter := &fakeInserter{}
	sink, err := newBigQuerySink(inserter, " weekly_recovery_reports ")
	require.NoError(t, err)
	report := Build(sampleRecords(), reportNow.Add(-reportWindow), reportNow, reportNow)

	require.NoError(t, sink.Emit(context.Background(), report))
	assert.Equal(t, "weekly_recovery_reports", inserter.table)
	require.Len(t, inserter.rows, 1)
	saver, ok := inserter.rows[0].(*cbigquery.StructSaver)
	require.True(t, ok)
	assert.Equal(t, "weekly:2026-06-01T06:00:00Z", saver.InsertID)
	row := saver.Struct.(*ReportRow)
	assert.Equal(t, int64(3), row.Abandoned)
	assert.InDelta(t, 33.33, row.RecoveryRate, 0.001)
	assert.True(t, row.Stages.Valid)
	assert.Contains(t, row.Stages.JSONVal, `"stage":"1h"`)
}

func TestBigQuerySinkClassifiesErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "unavailable", err: &googleapi.Error{Code: http.StatusServiceUnavailable}, retryable: true},
		{name: "bad request", err: &googleapi.Error{Code: http.StatusBadRequest}, retryable: false},
		{name: "grpc exhausted", err: status.Error(codes.ResourceExhausted, "quota"), retryable: true},
		{name: "grpc invalid", err: status.Error(codes.InvalidArgument, "schema"), retryable: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink, err := newBigQuerySink(&fakeInserter{err: tc.err}, "reports")
			require.NoError(t, err)
			err = sink.Emit(context.Background(), Build(nil, reportNow, reportNow, reportNow))
			require.Error(t, err)
			assert.Equal(t, tc.retryable, pkgerrors.IsRetryable(err))
		})
	}
}

func TestNewBigQuerySinkRequiresTable(t *testing.T) {
	_, err := newBigQuerySink(&fakeInserter{}, " ")
	require.Error(t, err)
	_, err = NewBigQuerySink(context.Background(), nil)
	require.Error(t, err)
}

func TestLogSinkEmits(t *testing.T) {
	sink, err := NewLogSink(testLogger())
	require.NoError(t, err)
	require.NoError(t, sink.Emit(context.Background(), Build(sampleRecords(), reportNow, reportNow, reportNow)))
}
