// Package notify はロッカー制御装置への「取り出し可能」通知を提供する。
// 通知はトランザクションのコミット後に送信され、失敗しても遷移は取り消さない。
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Event はロッカー通知の種別。
type Event string

const (
	// EventRetrievalApproved は受取申請が承認され、ロッカーを開けられるようになったことを示す。
	EventRetrievalApproved Event = "retrieval_approved"
	// EventPickupConfirmed は受取が完了したことを示す。
	EventPickupConfirmed Event = "pickup_confirmed"
)

// Signal は「ロッカーNの拾得物が取り出し可能」という通知。
type Signal struct {
	ObjectID     string    `json:"object_id"`
	ClaimID      string    `json:"claim_id"`
	LockerNumber int       `json:"locker_number"`
	Event        Event     `json:"event"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher はロッカー通知の送信インターフェース。
// Publishは呼び出し元をブロックせず、エラーも返さない。
type Publisher interface {
	Publish(ctx context.Context, signal Signal)
}

// LogPublisher はロッカー通知をログに出力するだけのPublisher。
// 送信先が設定されていない環境で使用する。
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher はLogPublisherを生成する。
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish は通知内容をInfoレベルで記録する。
func (p *LogPublisher) Publish(ctx context.Context, signal Signal) {
	p.logger.InfoContext(ctx, "locker signal",
		slog.String("event", string(signal.Event)),
		slog.String("object_id", signal.ObjectID),
		slog.String("claim_id", signal.ClaimID),
		slog.Int("locker_number", signal.LockerNumber),
	)
}

var _ Publisher = (*LogPublisher)(nil)
