// Package analytics computes the per-tenant dashboard report from the rollup
// counters and a bounded window of the conversation log.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/widgetbase/server/internal/models"
	"github.com/widgetbase/server/internal/store"
	"go.uber.org/zap"
)

// windowSize bounds how much of the log is read per report. Charts and
// session detail only see this window; totals come from the rollup and stay
// correct past it.
const windowSize = 1000

const chartBuckets = 30

const responseTimeTargetMs = 200

type Reporter struct {
	store  *store.Store
	logger *zap.Logger
}

func New(s *store.Store, logger *zap.Logger) *Reporter {
	return &Reporter{store: s, logger: logger}
}

type sessionAgg struct {
	messageCount      int
	totalResponseTime float64
	firstActivity     time.Time
	lastActivity      time.Time
}

// Report builds the analytics payload for one tenant. Read failures degrade
// to an empty report rather than propagating.
func (r *Reporter) Report(ctx context.Context, clientID string) *models.Report {
	summary, err := r.store.GetSummary(ctx, clientID)
	if err != nil {
		r.logger.Error("summary read failed", zap.String("client_id", clientID), zap.Error(err))
		summary = models.Summary{}
	}

	files, err := r.store.GetClientFiles(ctx, clientID)
	if err != nil {
		r.logger.Error("file list read failed", zap.String("client_id", clientID), zap.Error(err))
		files = nil
	}

	turns, err := r.store.RecentTurns(ctx, clientID, windowSize)
	if err != nil {
		r.logger.Error("log window read failed", zap.String("client_id", clientID), zap.Error(err))
		turns = nil
	}

	if len(turns) == 0 {
		return emptyReport(summary, files)
	}

	sessions := make(map[string]*sessionAgg)
	dailyActivity := make(map[string]int)
	dailyResponseTimes := make(map[string][]float64)
	var hourCounts [24]int
	last24h := 0

	yesterday := time.Now().Add(-24 * time.Hour)

	for _, turn := range turns {
		if turn.Timestamp.After(yesterday) {
			last24h++
		}

		agg, ok := sessions[turn.SessionID]
		if !ok {
			agg = &sessionAgg{firstActivity: turn.Timestamp, lastActivity: turn.Timestamp}
			sessions[turn.SessionID] = agg
		}
		agg.messageCount++
		agg.totalResponseTime += turn.ResponseTime
		if turn.Timestamp.After(agg.lastActivity) {
			agg.lastActivity = turn.Timestamp
		}
		if turn.Timestamp.Before(agg.firstActivity) {
			agg.firstActivity = turn.Timestamp
		}

		date := turn.Timestamp.Format("2006-01-02")
		dailyActivity[date]++
		dailyResponseTimes[date] = append(dailyResponseTimes[date], turn.ResponseTime)
		hourCounts[turn.Timestamp.Hour()]++
	}

	totalMessages := summary.TotalMessages
	uniqueSessions := len(sessions)

	var avgResponseTime, cacheEfficiency, avgPerSession float64
	if totalMessages > 0 {
		avgResponseTime = summary.TotalResponseTime / float64(totalMessages)
		cacheEfficiency = float64(summary.CacheHits) / float64(totalMessages) * 100
	}
	if uniqueSessions > 0 {
		avgPerSession = float64(totalMessages) / float64(uniqueSessions)
	}

	return &models.Report{
		TotalMessages:   totalMessages,
		UniqueSessions:  uniqueSessions,
		AvgResponseTime: round2(avgResponseTime),
		Last24hMessages: last24h,

		DailyActivity:     dailyChart(dailyActivity),
		ResponseTimeTrend: responseTimeChart(dailyResponseTimes),
		RecentActivity:    recentSessions(sessions),

		TotalInteractions:         uniqueSessions,
		KnowledgeBaseSize:         summary.FilesInfo.TotalSize,
		CacheEfficiency:           round1(cacheEfficiency),
		AvgMessagesPerSession:     round1(avgPerSession),
		AvgResponseTimePerSession: round2(avgResponseTime),

		TotalFiles:  summary.FilesInfo.TotalFiles,
		TotalChunks: summary.FilesInfo.TotalChunks,
		FilesList:   files,

		PeakActivityDay:    peakDay(dailyActivity),
		BusiestHour:        busiestHour(hourCounts),
		AvgSessionDuration: avgSessionDuration(sessions),
		LastUpdated:        time.Now().Format(time.RFC3339),
	}
}

func emptyReport(summary models.Summary, files []models.FileRecord) *models.Report {
	return &models.Report{
		DailyActivity:     []models.DailyActivity{},
		ResponseTimeTrend: []models.ResponseTimePoint{},
		RecentActivity:    []models.SessionActivity{},
		KnowledgeBaseSize: summary.FilesInfo.TotalSize,
		TotalFiles:        summary.FilesInfo.TotalFiles,
		TotalChunks:       summary.FilesInfo.TotalChunks,
		FilesList:         files,
		LastUpdated:       time.Now().Format(time.RFC3339),
	}
}

// dailyChart returns per-day message counts for the most recent 30 dates in
// the window, ascending by date.
func dailyChart(activity map[string]int) []models.DailyActivity {
	dates := sortedDates(activity)
	if len(dates) > chartBuckets {
		dates = dates[len(dates)-chartBuckets:]
	}
	chart := make([]models.DailyActivity, 0, len(dates))
	for _, d := range dates {
		chart = append(chart, models.DailyActivity{Date: d, Messages: activity[d]})
	}
	return chart
}

func responseTimeChart(byDay map[string][]float64) []models.ResponseTimePoint {
	dates := make([]string, 0, len(byDay))
	for d := range byDay {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if len(dates) > chartBuckets {
		dates = dates[len(dates)-chartBuckets:]
	}

	chart := make([]models.ResponseTimePoint, 0, len(dates))
	for _, d := range dates {
		times := byDay[d]
		var sum float64
		for _, t := range times {
			sum += t
		}
		chart = append(chart, models.ResponseTimePoint{
			Date:            d,
			AvgResponseTime: round2(sum / float64(len(times))),
			Target:          responseTimeTargetMs,
		})
	}
	return chart
}

// recentSessions summarizes the 10 most recently active sessions. Session ids
// are shortened in the payload.
func recentSessions(sessions map[string]*sessionAgg) []models.SessionActivity {
	type entry struct {
		id  string
		agg *sessionAgg
	}
	entries := make([]entry, 0, len(sessions))
	for id, agg := range sessions {
		entries = append(entries, entry{id, agg})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].agg.lastActivity.After(entries[j].agg.lastActivity)
	})
	if len(entries) > 10 {
		entries = entries[:10]
	}

	out := make([]models.SessionActivity, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.SessionActivity{
			SessionID:       shortenID(e.id),
			MessageCount:    e.agg.messageCount,
			AvgResponseTime: round2(e.agg.totalResponseTime / float64(e.agg.messageCount)),
			LastActivity:    e.agg.lastActivity.Format(time.RFC3339),
			DurationMinutes: int(e.agg.lastActivity.Sub(e.agg.firstActivity).Minutes()),
		})
	}
	return out
}

func shortenID(id string) string {
	if len(id) <= 8 {
		return id + "..."
	}
	return id[:8] + "..."
}

func peakDay(activity map[string]int) string {
	best := ""
	bestCount := 0
	for _, d := range sortedDates(activity) {
		if activity[d] > bestCount {
			best = d
			bestCount = activity[d]
		}
	}
	return best
}

// busiestHour is the mode over the hour-of-day of all window timestamps; ties
// resolve to the lowest hour.
func busiestHour(counts [24]int) string {
	best := -1
	bestCount := 0
	for hour := 0; hour < 24; hour++ {
		if counts[hour] > bestCount {
			best = hour
			bestCount = counts[hour]
		}
	}
	if best < 0 {
		return ""
	}
	return time.Date(0, 1, 1, best, 0, 0, 0, time.UTC).Format("15:04")
}

// avgSessionDuration averages only sessions with more than one message;
// single-message sessions would bias the average toward zero.
func avgSessionDuration(sessions map[string]*sessionAgg) float64 {
	var total float64
	valid := 0
	for _, agg := range sessions {
		if agg.messageCount > 1 {
			total += agg.lastActivity.Sub(agg.firstActivity).Minutes()
			valid++
		}
	}
	if valid == 0 {
		return 0
	}
	return round1(total / float64(valid))
}

func sortedDates(m map[string]int) []string {
	dates := make([]string, 0, len(m))
	for d := range m {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
