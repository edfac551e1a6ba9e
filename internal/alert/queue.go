// Package alert は確定した寄付を表示クライアントへ順番に配信するキューを提供する。
//
// キューはプロセスに1つで、単一の消費ゴルーチンがFIFO順に取り出す。
// 1件配信するごとに一定間隔休止するため、画面上のアニメーションが重ならない。
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/donalert/internal/metrics"
	"github.com/hitoshi/donalert/internal/model"
	"github.com/hitoshi/donalert/internal/repository"
)

// State はキューの状態。
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

// Item はキューに積まれるアラート。
type Item struct {
	Handle     string      `json:"handle"`
	Alert      model.Alert `json:"alert"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// Publisher は表示クライアントへの配信先。
type Publisher interface {
	Publish(handle string, a model.Alert) int
}

// QueueConfig はキューの設定パラメータ。
type QueueConfig struct {
	// Interval は配信間の最小間隔（デフォルト: 6秒）。
	Interval time.Duration
	// HistorySize は保持する配信履歴の件数（デフォルト: 50）。
	HistorySize int
}

// DefaultQueueConfig はデフォルトのキュー設定を返す。
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Interval:    6 * time.Second,
		HistorySize: 50,
	}
}

// Queue はアラート配信キュー。
type Queue struct {
	publisher Publisher
	auditLog  repository.AlertLogRepository
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    QueueConfig

	mu      sync.Mutex
	items   []Item
	history []Item
	state   State
	wake    chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewQueue はQueueを生成する。配信を始めるにはStartを呼ぶこと。
func NewQueue(
	publisher Publisher,
	auditLog repository.AlertLogRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config QueueConfig,
) *Queue {
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultQueueConfig().HistorySize
	}
	return &Queue{
		publisher: publisher,
		auditLog:  auditLog,
		metrics:   collector,
		logger:    logger,
		config:    config,
		state:     StateIdle,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Enqueue はアラートを末尾に追加する。
// Idleの場合はDrainingに遷移して消費ゴルーチンを起こす。
func (q *Queue) Enqueue(handle string, a model.Alert) {
	q.mu.Lock()
	q.items = append(q.items, Item{Handle: handle, Alert: a, EnqueuedAt: q.now()})
	depth := len(q.items)
	if q.state == StateIdle {
		q.state = StateDraining
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
}

// Start はコンテキストがキャンセルされるまでキューを消費する。
// 呼び出し元のゴルーチンをブロックするため、go q.Start(ctx) で起動する。
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("アラートキューを開始しました", slog.Duration("interval", q.config.Interval))
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("アラートキューを停止しました")
			return
		case <-q.wake:
		}

		if err := q.drain(ctx); err != nil {
			q.logger.Info("アラートキューを停止しました")
			return
		}
	}
}

// drain はキューが空になるまで1件ずつ配信し、空になったらIdleに戻す。
func (q *Queue) drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.state = StateIdle
			q.mu.Unlock()
			q.metrics.SetQueueDepth(0)
			return nil
		}
		item := q.items[0]
		q.items[0] = Item{}
		q.items = q.items[1:]
		q.state = StateDraining
		depth := len(q.items)
		q.mu.Unlock()

		q.metrics.SetQueueDepth(depth)
		q.dispatch(ctx, item)

		if err := q.sleep(ctx, q.config.Interval); err != nil {
			return err
		}
	}
}

// dispatch は履歴への追加、監査ログへの保存、購読者への配信を行う。
func (q *Queue) dispatch(ctx context.Context, item Item) {
	dispatchedAt := q.now()

	q.mu.Lock()
	q.history = append(q.history, item)
	if over := len(q.history) - q.config.HistorySize; over > 0 {
		q.history = append([]Item(nil), q.history[over:]...)
	}
	q.mu.Unlock()

	if err := q.auditLog.Insert(ctx, item.Handle, item.Alert, dispatchedAt); err != nil {
		q.logger.Error("アラートの監査ログ保存に失敗しました",
			slog.String("handle", item.Handle),
			slog.String("donation_id", item.Alert.ID),
			slog.String("error", err.Error()),
		)
	}

	delivered := q.publisher.Publish(item.Handle, item.Alert)
	q.metrics.RecordAlertDispatched()

	q.logger.Info("アラートを配信しました",
		slog.String("handle", item.Handle),
		slog.String("donation_id", item.Alert.ID),
		slog.Int("subscribers", delivered),
	)
}

// Clear は配信待ちのアラートをすべて破棄し、Idleに戻す。破棄した件数を返す。
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	q.state = StateIdle
	q.mu.Unlock()

	q.metrics.SetQueueDepth(0)
	q.logger.Warn("アラートキューをクリアしました", slog.Int("dropped", dropped))
	return dropped
}

// Pending は配信待ちのアラートを先頭から順に返す。
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item(nil), q.items...)
}

// History は直近に配信したアラートを新しい順に返す。
func (q *Queue) History() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]Item, len(q.history))
	for i, item := range q.history {
		result[len(q.history)-1-i] = item
	}
	return result
}

// State は現在の状態を返す。
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
