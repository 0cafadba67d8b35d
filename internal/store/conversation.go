package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/widgetbase/server/internal/models"
	"go.uber.org/zap"
)

const historyCharBudget = 40000

// AppendTurn appends one conversation turn to the tenant log, trims the log
// to its bound and bumps the rollup counters. The log write is primary: if it
// fails the error is surfaced. A rollup failure after a successful append is
// logged as a consistency warning and swallowed, so the rollup may undercount
// but never overcounts.
func (s *Store) AppendTurn(ctx context.Context, clientID string, turn models.Turn) error {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	cached := "0"
	if turn.Cached {
		cached = "1"
	}

	key := analyticsKey(clientID)
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{
			"timestamp":     ts.Format(time.RFC3339Nano),
			"session_id":    turn.SessionID,
			"message":       turn.Message,
			"response":      turn.Response,
			"response_time": strconv.FormatFloat(turn.ResponseTime, 'f', -1, 64),
			"cached":        cached,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	if err := s.rdb.XTrimMaxLen(ctx, key, maxLogEntries).Err(); err != nil {
		s.logger.Warn("log trim failed", zap.String("client_id", clientID), zap.Error(err))
	}

	s.registerKeys(ctx, clientID, key, summaryKey(clientID))
	s.incrTurnSummary(ctx, clientID, turn.ResponseTime, turn.Cached)
	return nil
}

// GetChatHistory returns the session's turns in chronological order as
// prompt-ready text, bounded by limit entries and a 40k character budget.
// Entries are never split: the first one that would overflow is dropped along
// with everything newer.
func (s *Store) GetChatHistory(ctx context.Context, clientID, sessionID string, limit int) string {
	msgs, err := s.rdb.XRevRangeN(ctx, analyticsKey(clientID), "+", "-", int64(limit*3)).Result()
	if err != nil {
		s.logger.Error("history read failed", zap.String("client_id", clientID), zap.Error(err))
		return ""
	}

	var session []map[string]string
	for _, m := range msgs {
		data := stringValues(m.Values)
		if data["session_id"] != sessionID {
			continue
		}
		session = append(session, data)
		if len(session) >= limit {
			break
		}
	}
	if len(session) == 0 {
		return ""
	}

	var sb strings.Builder
	total := 0
	// session is newest-first; walk backwards for chronological output.
	for i := len(session) - 1; i >= 0; i-- {
		data := session[i]
		entry := fmt.Sprintf("[%s]\nUser: %s\nAI: %s\n\n",
			data["timestamp"], data["message"], data["response"])
		if total+len(entry) > historyCharBudget {
			s.logger.Warn("chat history hit character budget",
				zap.String("client_id", clientID), zap.String("session_id", sessionID))
			break
		}
		sb.WriteString(entry)
		total += len(entry)
	}
	return sb.String()
}

// RecentTurns reads the newest count entries of the tenant log, newest first.
// Entries with unparseable timestamps are skipped.
func (s *Store) RecentTurns(ctx context.Context, clientID string, count int) ([]models.Turn, error) {
	msgs, err := s.rdb.XRevRangeN(ctx, analyticsKey(clientID), "+", "-", int64(count)).Result()
	if err != nil {
		return nil, err
	}

	turns := make([]models.Turn, 0, len(msgs))
	for _, m := range msgs {
		data := stringValues(m.Values)
		ts, err := time.Parse(time.RFC3339Nano, data["timestamp"])
		if err != nil {
			continue
		}
		rt, _ := strconv.ParseFloat(data["response_time"], 64)
		turns = append(turns, models.Turn{
			Timestamp:    ts,
			SessionID:    data["session_id"],
			Message:      data["message"],
			Response:     data["response"],
			ResponseTime: rt,
			Cached:       data["cached"] == "1",
		})
	}
	return turns, nil
}

func stringValues(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if sv, ok := v.(string); ok {
			out[k] = sv
		}
	}
	return out
}
