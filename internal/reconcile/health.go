package reconcile

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/safetrade/escrowd/internal/escrow"
)

// HealthReport is a point-in-time snapshot of the scheduling subsystem.
type HealthReport struct {
	GeneratedAt time.Time

	ByStatus map[escrow.Status]int64

	// ActiveSchedules counts transactions with a pending deadline.
	ActiveSchedules int64

	// Overdue counts schedules whose deadline has already elapsed. A
	// persistently non-zero value means the fire job is not keeping up.
	Overdue int64

	// DueNext24h counts schedules firing within the next day.
	DueNext24h int64

	// AutoFiredLast24h counts automatic transitions committed in the
	// trailing day.
	AutoFiredLast24h int64

	// Anomalies is the validator finding count at report time.
	Anomalies int
}

// Healthy reports whether the snapshot shows no overdue schedules and no
// anomalies.
func (r HealthReport) Healthy() bool {
	return r.Overdue == 0 && r.Anomalies == 0
}

// Fields flattens the report for the observability reporter.
func (r HealthReport) Fields() map[string]string {
	fields := map[string]string{
		"generated_at":        r.GeneratedAt.Format(time.RFC3339),
		"active_schedules":    strconv.FormatInt(r.ActiveSchedules, 10),
		"overdue":             strconv.FormatInt(r.Overdue, 10),
		"due_next_24h":        strconv.FormatInt(r.DueNext24h, 10),
		"auto_fired_last_24h": strconv.FormatInt(r.AutoFiredLast24h, 10),
		"anomalies":           strconv.Itoa(r.Anomalies),
		"healthy":             strconv.FormatBool(r.Healthy()),
	}
	for status, n := range r.ByStatus {
		fields["status:"+string(status)] = strconv.FormatInt(n, 10)
	}
	return fields
}

// Render formats the report for the CLI, statuses in lifecycle order.
func (r HealthReport) Render() string {
	var b strings.Builder
	b.WriteString("escrow timeout health @ " + r.GeneratedAt.Format(time.RFC3339) + "\n\n")

	statuses := make([]escrow.Status, 0, len(r.ByStatus))
	for s := range r.ByStatus {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, k int) bool {
		return lifecycleIndex(statuses[i]) < lifecycleIndex(statuses[k])
	})
	for _, s := range statuses {
		b.WriteString("  " + padStatus(string(s)) + strconv.FormatInt(r.ByStatus[s], 10) + "\n")
	}
	if len(statuses) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("  " + padStatus("active schedules") + strconv.FormatInt(r.ActiveSchedules, 10) + "\n")
	b.WriteString("  " + padStatus("overdue") + strconv.FormatInt(r.Overdue, 10) + "\n")
	b.WriteString("  " + padStatus("due next 24h") + strconv.FormatInt(r.DueNext24h, 10) + "\n")
	b.WriteString("  " + padStatus("auto-fired last 24h") + strconv.FormatInt(r.AutoFiredLast24h, 10) + "\n")
	b.WriteString("  " + padStatus("anomalies") + strconv.Itoa(r.Anomalies) + "\n")

	if r.Healthy() {
		b.WriteString("\nstatus: healthy\n")
	} else {
		b.WriteString("\nstatus: DEGRADED\n")
	}
	return b.String()
}

func lifecycleIndex(s escrow.Status) int {
	for i, known := range escrow.AllStatuses {
		if known == s {
			return i
		}
	}
	return len(escrow.AllStatuses)
}

func padStatus(s string) string {
	const width = 22
	if len(s) >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-len(s))
}

// Health builds the report and publishes it through the reporter. The
// report is returned even when publishing fails; the failure is logged.
func (j *Jobs) Health(ctx context.Context) (HealthReport, error) {
	now := j.clock.Now()
	report := HealthReport{GeneratedAt: now}

	var err error
	if report.ByStatus, err = j.store.CountByStatus(ctx); err != nil {
		return HealthReport{}, err
	}
	if report.ActiveSchedules, err = j.store.CountScheduled(ctx); err != nil {
		return HealthReport{}, err
	}
	if report.Overdue, err = j.store.CountDueBefore(ctx, now); err != nil {
		return HealthReport{}, err
	}
	if report.DueNext24h, err = j.store.CountDueBetween(ctx, now, now.Add(24*time.Hour)); err != nil {
		return HealthReport{}, err
	}
	if report.AutoFiredLast24h, err = j.store.CountAutoFired(ctx, now.Add(-24*time.Hour)); err != nil {
		return HealthReport{}, err
	}

	anomalies, err := j.Validate(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	report.Anomalies = len(anomalies)

	if err := j.reporter.Report(ctx, "timeouts", report.Fields()); err != nil {
		j.logger.WarnContext(ctx, "health report publish failed", "error", err.Error())
	}

	j.logger.InfoContext(ctx, "health report",
		"active_schedules", report.ActiveSchedules,
		"overdue", report.Overdue,
		"anomalies", report.Anomalies,
		"healthy", report.Healthy(),
	)
	return report, nil
}
