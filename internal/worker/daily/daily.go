// Package daily は1日1回、指定時刻（UTC）にジョブを実行するループを提供する。
package daily

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TimeOfDay はUTCの時刻（時・分）。
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Parse は "HH:MM" 形式の文字列をTimeOfDayに変換する。
func Parse(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("時刻は HH:MM 形式で指定してください: %q", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String は "HH:MM" 形式で返す。
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Next はnow以降で最初に到来する実行時刻を返す。nowちょうどの場合は翌日を返す。
func (t TimeOfDay) Next(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, t.Minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Job は日次で実行される処理。
type Job func(ctx context.Context) error

// Options はRunの動作を調整する。ゼロ値のフィールドは実時間を使う。
type Options struct {
	Name  string
	Now   func() time.Time
	After func(d time.Duration) <-chan time.Time
}

// Run はコンテキストがキャンセルされるまで、毎日atにjobを実行する。
// jobのエラーはログに記録し、ループは継続する。
func Run(ctx context.Context, at TimeOfDay, job Job, logger *slog.Logger, opts Options) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	after := opts.After
	if after == nil {
		after = time.After
	}
	log := logger.With(slog.String("job", opts.Name))

	for {
		if ctx.Err() != nil {
			log.Info("日次ジョブを停止しました")
			return
		}

		next := at.Next(now())
		wait := next.Sub(now())
		log.Info("次回の実行を予約しました",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		select {
		case <-ctx.Done():
			log.Info("日次ジョブを停止しました")
			return
		case <-after(wait):
		}

		start := now()
		if err := job(ctx); err != nil {
			log.Error("日次ジョブの実行に失敗しました",
				slog.String("error", err.Error()),
			)
			continue
		}
		log.Info("日次ジョブが完了しました",
			slog.Float64("duration_ms", float64(now().Sub(start).Milliseconds())),
		)
	}
}
