// Package expiry はロック期限切れの拾得物を定期的に解放するジョブを提供する。
// 読み取り時の遅延判定だけでも正しさは保たれるが、審査一覧から
// 期限切れの申請を取り除くために一定間隔で期限切れロックを確定させる。
package expiry

import (
	"context"
	"log/slog"
	"time"
)

// LockExpirer は期限切れロックの解放インターフェース。
type LockExpirer interface {
	// ExpireStaleLocks は最大limit件の期限切れロックを解放し、解放件数を返す。
	ExpireStaleLocks(ctx context.Context, limit int) (int, error)
}

// デフォルト値
const (
	defaultBatchSize  = 100
	defaultMaxBatches = 50
)

// Sweeper は期限切れロックの定期解放ジョブ。
// 1サイクルでバッチを繰り返し、バッチが上限件数に満たなければ終了する。
type Sweeper struct {
	expirer    LockExpirer
	logger     *slog.Logger
	batchSize  int
	maxBatches int // 1サイクルあたりのバッチ数の上限
}

// NewSweeper はSweeperを生成する。batchSizeが0以下の場合はデフォルト値100を使用する。
func NewSweeper(expirer LockExpirer, logger *slog.Logger, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Sweeper{
		expirer:    expirer,
		logger:     logger,
		batchSize:  batchSize,
		maxBatches: defaultMaxBatches,
	}
}

// Start は指定間隔のティッカーでジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("期限切れロック解放ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.batchSize),
	)

	// 起動直後に1回実行
	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("期限切れロック解放ジョブを停止しました")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("期限切れロック解放サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は期限切れロックがなくなるまでバッチ単位で解放し、解放した件数の合計を返す。
// 途中のバッチで失敗した場合は、それまでに解放した件数とエラーを返す。
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	total := 0

	for batch := 0; batch < s.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		released, err := s.expirer.ExpireStaleLocks(ctx, s.batchSize)
		if err != nil {
			return total, err
		}
		total += released
		if released < s.batchSize {
			break
		}
	}

	if total == 0 {
		s.logger.Debug("期限切れロックはありません")
		return 0, nil
	}

	s.logger.Info("期限切れロック解放サイクルが完了しました",
		slog.Int("released_count", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return total, nil
}
