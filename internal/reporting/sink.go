package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	pkgbigquery "github.com/angelmondragon/cartrecovery-backend/pkg/bigquery"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LogSink writes the report as a structured log line.
type LogSink struct {
	logg *logger.Logger
}

func NewLogSink(logg *logger.Logger) (*LogSink, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &LogSink{logg: logg}, nil
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(ctx context.Context, report Report) error {
	stages := make(map[string]any, len(report.Stages))
	for _, funnel := range report.Stages {
		stages[string(funnel.Stage)] = map[string]any{
			"sent":            funnel.Sent,
			"skipped":         funnel.Skipped,
			"opened":          funnel.Opened,
			"clicked":         funnel.Clicked,
			"converted":       funnel.Converted,
			"open_rate":       funnel.OpenRate.StringFixed(2),
			"click_rate":      funnel.ClickRate.StringFixed(2),
			"conversion_rate": funnel.ConversionRate.StringFixed(2),
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event":                 "report.weekly",
		"period_start":          report.PeriodStart,
		"period_end":            report.PeriodEnd,
		"abandoned":             report.Abandoned,
		"abandoned_value_cents": report.AbandonedValueCents,
		"recovered":             report.Recovered,
		"recovered_value_cents": report.RecoveredValueCents,
		"lost":                  report.Lost,
		"recovery_rate":         report.RecoveryRate.StringFixed(2),
		"stages":                stages,
	}), "weekly recovery report")
	return nil
}

// ReportRow mirrors the weekly_recovery_reports BigQuery schema.
type ReportRow struct {
	PeriodStart         time.Time          `bigquery:"period_start"`
	PeriodEnd           time.Time          `bigquery:"period_end"`
	GeneratedAt         time.Time          `bigquery:"generated_at"`
	Abandoned           int64              `bigquery:"abandoned"`
	AbandonedValueCents int64              `bigquery:"abandoned_value_cents"`
	Recovered           int64              `bigquery:"recovered"`
	RecoveredValueCents int64              `bigquery:"recovered_value_cents"`
	Lost                int64              `bigquery:"lost"`
	RecoveryRate        float64            `bigquery:"recovery_rate"`
	Stages              cbigquery.NullJSON `bigquery:"stages"`
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQuerySink streams the report into the configured table. The insert id
// is derived from the period so a retried job does not duplicate the row.
type BigQuerySink struct {
	client tableInserter
	table  string
}

// ReportSchema is the table layout of ReportRow.
var ReportSchema = cbigquery.Schema{
	{Name: "period_start", Type: cbigquery.TimestampFieldType, Required: true},
	{Name: "period_end", Type: cbigquery.TimestampFieldType, Required: true},
	{Name: "generated_at", Type: cbigquery.TimestampFieldType, Required: true},
	{Name: "abandoned", Type: cbigquery.IntegerFieldType},
	{Name: "abandoned_value_cents", Type: cbigquery.IntegerFieldType},
	{Name: "recovered", Type: cbigquery.IntegerFieldType},
	{Name: "recovered_value_cents", Type: cbigquery.IntegerFieldType},
	{Name: "lost", Type: cbigquery.IntegerFieldType},
	{Name: "recovery_rate", Type: cbigquery.FloatFieldType},
	{Name: "stages", Type: cbigquery.JSONFieldType},
}

// NewBigQuerySink makes sure the report table exists and returns a sink
// writing into it.
func NewBigQuerySink(ctx context.Context, client *pkgbigquery.Client) (*BigQuerySink, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if err := client.EnsureTable(ctx, client.ReportTable(), ReportSchema, "period_start"); err != nil {
		return nil, err
	}
	return newBigQuerySink(client, client.ReportTable())
}

func newBigQuerySink(client tableInserter, table string) (*BigQuerySink, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("report table is required")
	}
	return &BigQuerySink{client: client, table: table}, nil
}

func (s *BigQuerySink) Name() string { return "bigquery" }

func (s *BigQuerySink) Emit(ctx context.Context, report Report) error {
	row, err := toRow(report)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode report row")
	}
	saver := &cbigquery.StructSaver{
		Struct:   row,
		InsertID: "weekly:" + report.PeriodStart.UTC().Format(time.RFC3339),
	}
	if err := s.client.InsertRows(ctx, s.table, []any{saver}); err != nil {
		if isRetryableBigQueryError(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert report row")
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "report row rejected")
	}
	return nil
}

func toRow(report Report) (*ReportRow, error) {
	stages, err := json.Marshal(report.Stages)
	if err != nil {
		return nil, err
	}
	return &ReportRow{
		PeriodStart:         report.PeriodStart,
		PeriodEnd:           report.PeriodEnd,
		GeneratedAt:         report.GeneratedAt,
		Abandoned:           int64(report.Abandoned),
		AbandonedValueCents: report.AbandonedValueCents,
		Recovered:           int64(report.Recovered),
		RecoveredValueCents: report.RecoveredValueCents,
		Lost:                int64(report.Lost),
		RecoveryRate:        report.RecoveryRate.InexactFloat64(),
		Stages:              cbigquery.NullJSON{Valid: true, JSONVal: string(stages)},
	}, nil
}

func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}

	var pme cbigquery.PutMultiError
	if errors.As(err, &pme) {
		if len(pme) == 0 {
			return false
		}
		for _, rowErr := range pme {
			for _, inner := range rowErr.Errors {
				if !isRetryableBigQueryError(inner) {
					return false
				}
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests,
			http.StatusRequestTimeout,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		if st := statusErr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
				return true
			}
		}
		return false
	}

	return errors.Is(err, context.DeadlineExceeded)
}
