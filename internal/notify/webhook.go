package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/lockerclaim/internal/metrics"
	"github.com/hitoshi/lockerclaim/internal/security"
)

// lockerPlaceholder はWebhook URL中のロッカー番号の置換位置。
// 例: http://192.168.45.11:8000/api/locker/open/{locker}
const lockerPlaceholder = "{locker}"

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// deliveryResult はHTTPステータスコードに基づく送信結果の分類。
type deliveryResult int

const (
	deliveryOK deliveryResult = iota
	deliveryRetry
	deliveryStop
)

// classifyStatus はWebhook応答のステータスコードを分類する。
// 429と5xxは再送、それ以外の4xxなどは再送しない。
func classifyStatus(statusCode int) deliveryResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return deliveryOK
	case statusCode == http.StatusTooManyRequests:
		return deliveryRetry
	case statusCode >= 500:
		return deliveryRetry
	default:
		return deliveryStop
	}
}

// calculateBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
func calculateBackoff(initial, maxDelay time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxDelay {
			return maxDelay
		}
	}
	return delay
}

// WebhookConfig はWebhookPublisherの設定。
type WebhookConfig struct {
	URL            string
	Timeout        time.Duration
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// WebhookPublisher はロッカー制御装置のHTTPエンドポイントへ通知を送信する。
// 通知はキューに積まれ、バックグラウンドのゴルーチンが順に送信する。
// キューが満杯の場合、通知は破棄されログとメトリクスに記録される。
type WebhookPublisher struct {
	config   WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	recorder metrics.Recorder

	// mu はqueueへの送信とcloseを排他する。Close後のPublishは破棄する。
	mu     sync.RWMutex
	closed bool
	queue  chan Signal
	wg     sync.WaitGroup
}

// NewWebhookPublisher はWebhookPublisherを生成する。
// 送信先URLはguardで検証し、送信にはguardが生成するクライアントを使用する。
func NewWebhookPublisher(cfg WebhookConfig, guard *security.URLGuard, logger *slog.Logger, recorder metrics.Recorder) (*WebhookPublisher, error) {
	if err := guard.Validate(strings.ReplaceAll(cfg.URL, lockerPlaceholder, "1")); err != nil {
		return nil, fmt.Errorf("invalid locker webhook URL: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	return &WebhookPublisher{
		config:   cfg,
		client:   guard.Client(cfg.Timeout),
		logger:   logger,
		recorder: recorder,
		queue:    make(chan Signal, cfg.QueueSize),
	}, nil
}

// Start は送信ゴルーチンを起動する。ctxがキャンセルされるか、Closeが呼ばれると停止する。
func (p *WebhookPublisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case signal, ok := <-p.queue:
				if !ok {
					return
				}
				p.deliver(ctx, signal)
			}
		}
	}()
}

// Close はキューを閉じ、積まれている通知の送信完了を待つ。複数回呼んでもよい。
func (p *WebhookPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Publish は通知をキューに積む。ブロックしない。
// キューが満杯、またはClose済みの場合は破棄する。
func (p *WebhookPublisher) Publish(ctx context.Context, signal Signal) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.recorder.RecordSignal(string(signal.Event), "dropped")
		p.logger.WarnContext(ctx, "locker signal publisher closed, dropping signal",
			slog.String("event", string(signal.Event)),
			slog.String("object_id", signal.ObjectID),
			slog.Int("locker_number", signal.LockerNumber),
		)
		return
	}

	select {
	case p.queue <- signal:
	default:
		p.recorder.RecordSignal(string(signal.Event), "dropped")
		p.logger.WarnContext(ctx, "locker signal queue full, dropping signal",
			slog.String("event", string(signal.Event)),
			slog.String("object_id", signal.ObjectID),
			slog.Int("locker_number", signal.LockerNumber),
		)
	}
}

// deliver は通知を送信する。429/5xx/通信エラーは指数バックオフで再送する。
func (p *WebhookPublisher) deliver(ctx context.Context, signal Signal) {
	for attempt := 0; attempt < p.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(p.config.InitialBackoff, p.config.MaxBackoff, attempt-1)
			select {
			case <-ctx.Done():
				p.recorder.RecordSignal(string(signal.Event), metrics.OutcomeError)
				return
			case <-time.After(delay):
			}
		}

		result, err := p.send(ctx, signal)
		switch {
		case result == deliveryOK:
			p.recorder.RecordSignal(string(signal.Event), metrics.OutcomeSuccess)
			p.logger.Info("locker signal delivered",
				slog.String("event", string(signal.Event)),
				slog.String("object_id", signal.ObjectID),
				slog.Int("locker_number", signal.LockerNumber),
				slog.Int("attempt", attempt+1),
			)
			return
		case result == deliveryStop:
			p.recorder.RecordSignal(string(signal.Event), metrics.OutcomeRejected)
			p.logger.Error("locker signal rejected by endpoint",
				slog.String("event", string(signal.Event)),
				slog.String("object_id", signal.ObjectID),
				slog.String("error", err.Error()),
			)
			return
		default:
			p.logger.Warn("locker signal delivery failed",
				slog.String("event", string(signal.Event)),
				slog.String("object_id", signal.ObjectID),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
		}
	}

	p.recorder.RecordSignal(string(signal.Event), metrics.OutcomeError)
	p.logger.Error("locker signal gave up after retries",
		slog.String("event", string(signal.Event)),
		slog.String("object_id", signal.ObjectID),
		slog.Int("max_attempts", p.config.MaxAttempts),
	)
}

// send は1回分のHTTP POSTを実行する。
func (p *WebhookPublisher) send(ctx context.Context, signal Signal) (deliveryResult, error) {
	body, err := json.Marshal(signal)
	if err != nil {
		return deliveryStop, fmt.Errorf("failed to encode signal: %w", err)
	}

	target := strings.ReplaceAll(p.config.URL, lockerPlaceholder, strconv.Itoa(signal.LockerNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return deliveryStop, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return deliveryRetry, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result := classifyStatus(resp.StatusCode)
	if result != deliveryOK {
		return result, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return deliveryOK, nil
}

var _ Publisher = (*WebhookPublisher)(nil)
