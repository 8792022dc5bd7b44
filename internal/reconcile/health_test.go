package reconcile

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/safetrade/escrowd/internal/escrow"
)

func fixedReport() HealthReport {
	return HealthReport{
		GeneratedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		ByStatus: map[escrow.Status]int64{
			escrow.StatusPendingPayment: 2,
			escrow.StatusShipped:        1,
			escrow.StatusFundsReleased:  3,
		},
		ActiveSchedules:  1,
		Overdue:          0,
		DueNext24h:       1,
		AutoFiredLast24h: 4,
		Anomalies:        0,
	}
}

func TestHealthReportRender(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "health_report", []byte(fixedReport().Render()))
}

func TestHealthReportRenderDegraded(t *testing.T) {
	report := fixedReport()
	report.Overdue = 2
	report.Anomalies = 1

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "health_report_degraded", []byte(report.Render()))
}

func TestHealthReportHealthy(t *testing.T) {
	report := fixedReport()
	assert.True(t, report.Healthy())

	report.Overdue = 1
	assert.False(t, report.Healthy())

	report.Overdue = 0
	report.Anomalies = 1
	assert.False(t, report.Healthy())
}

func TestHealthReportFields(t *testing.T) {
	fields := fixedReport().Fields()

	assert.Equal(t, "2025-03-01T12:00:00Z", fields["generated_at"])
	assert.Equal(t, "1", fields["active_schedules"])
	assert.Equal(t, "0", fields["overdue"])
	assert.Equal(t, "4", fields["auto_fired_last_24h"])
	assert.Equal(t, "true", fields["healthy"])
	assert.Equal(t, "2", fields["status:pending_payment"])
}
