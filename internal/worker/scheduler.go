// Package worker はバックグラウンドジョブの定期実行を提供する。
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Job は定期実行されるバックグラウンドジョブのインターフェース。
type Job interface {
	// Run はジョブを1回実行する。冪等であること。
	Run(ctx context.Context) error
}

// namedJob はジョブと識別名の組。
type namedJob struct {
	name string
	job  Job
}

// Scheduler は登録されたジョブを一定間隔で順次実行する。
// ジョブの失敗はログに記録するだけで、他のジョブや次回の実行には影響しない。
type Scheduler struct {
	jobs   []namedJob
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Register はジョブをスケジューラに登録する。
func (s *Scheduler) Register(name string, job Job) {
	s.jobs = append(s.jobs, namedJob{name: name, job: job})
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ジョブスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("job_count", len(s.jobs)),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ジョブスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は登録された全ジョブを登録順に1回ずつ実行する。
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, nj := range s.jobs {
		start := time.Now()

		if err := nj.job.Run(ctx); err != nil {
			s.logger.Error("ジョブの実行に失敗しました",
				slog.String("job", nj.name),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.logger.Info("ジョブが完了しました",
			slog.String("job", nj.name),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
}
