package reporting

import (
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Report is the weekly recovery summary. Rates are percentages rounded to
// two decimal places.
type Report struct {
	PeriodStart         time.Time       `json:"period_start"`
	PeriodEnd           time.Time       `json:"period_end"`
	GeneratedAt         time.Time       `json:"generated_at"`
	Abandoned           int             `json:"abandoned"`
	AbandonedValueCents int64           `json:"abandoned_value_cents"`
	Recovered           int             `json:"recovered"`
	RecoveredValueCents int64           `json:"recovered_value_cents"`
	Lost                int             `json:"lost"`
	RecoveryRate        decimal.Decimal `json:"recovery_rate"`
	Stages              []StageFunnel   `json:"stages"`
}

// StageFunnel is the engagement funnel of one reminder stage. Every rate is
// relative to the number of reminders sent for the stage.
type StageFunnel struct {
	Stage          enums.ReminderStage `json:"stage"`
	Sent           int                 `json:"sent"`
	Skipped        int                 `json:"skipped"`
	Opened         int                 `json:"opened"`
	Clicked        int                 `json:"clicked"`
	Converted      int                 `json:"converted"`
	OpenRate       decimal.Decimal     `json:"open_rate"`
	ClickRate      decimal.Decimal     `json:"click_rate"`
	ConversionRate decimal.Decimal     `json:"conversion_rate"`
}

// Build aggregates records created inside [start, end).
func Build(records []models.AbandonmentRecord, start, end, generatedAt time.Time) Report {
	report := Report{
		PeriodStart: start,
		PeriodEnd:   end,
		GeneratedAt: generatedAt,
	}
	funnels := make(map[enums.ReminderStage]*StageFunnel, len(enums.ReminderStages))
	for _, stage := range enums.ReminderStages {
		funnels[stage] = &StageFunnel{Stage: stage}
	}

	for _, record := range records {
		report.Abandoned++
		report.AbandonedValueCents += record.CartValueCents
		switch record.Status {
		case enums.AbandonmentStatusRecovered:
			report.Recovered++
			report.RecoveredValueCents += record.RecoveredValueCents
		case enums.AbandonmentStatusLost:
			report.Lost++
		}
		for stage, log := range record.Stages {
			funnel, ok := funnels[stage]
			if !ok || log == nil {
				continue
			}
			if log.SentAt == nil {
				if log.SkippedReason != "" {
					funnel.Skipped++
				}
				continue
			}
			funnel.Sent++
			if log.OpenedAt != nil {
				funnel.Opened++
			}
			if log.ClickedAt != nil {
				funnel.Clicked++
			}
			if log.ConvertedAt != nil {
				funnel.Converted++
			}
		}
	}

	report.RecoveryRate = percent(report.Recovered, report.Abandoned)
	for _, stage := range enums.ReminderStages {
		funnel := funnels[stage]
		funnel.OpenRate = percent(funnel.Opened, funnel.Sent)
		funnel.ClickRate = percent(funnel.Clicked, funnel.Sent)
		funnel.ConversionRate = percent(funnel.Converted, funnel.Sent)
		report.Stages = append(report.Stages, *funnel)
	}
	return report
}

func percent(part, whole int) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(whole))).
		Round(2)
}
