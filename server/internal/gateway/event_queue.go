package gateway

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrQueueClosed = errors.New("event queue closed")
	ErrQueueFull   = errors.New("event queue full")
)

// EventQueue 单个会话的串行事件队列。
// 客户端事件按到达顺序逐个交给 handler，避免转写结果、播放回执与控制指令乱序。
type EventQueue struct {
	sessionID string
	handler   EventHandler
	eventChan chan *queuedEvent
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *log.Logger

	mu    sync.Mutex
	stats QueueStats
}

// QueueStats 队列统计
type QueueStats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
	Capacity  int   `json:"capacity"`
}

type queuedEvent struct {
	msg      *ClientMessage
	enqueued time.Time
	resultCh chan error
}

const (
	defaultQueueCapacity = 100
	defaultEventTimeout  = 10 * time.Second
	slowEventThreshold   = time.Second
)

func NewEventQueue(sessionID string, handler EventHandler, logger *log.Logger) *EventQueue {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	eq := &EventQueue{
		sessionID: sessionID,
		handler:   handler,
		eventChan: make(chan *queuedEvent, defaultQueueCapacity),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
	eq.wg.Add(1)
	go eq.processLoop()
	return eq
}

// Enqueue 非阻塞入队；队列满时丢弃并返回 ErrQueueFull
func (eq *EventQueue) Enqueue(msg *ClientMessage) error {
	if eq.ctx.Err() != nil {
		return ErrQueueClosed
	}
	event := &queuedEvent{msg: msg, enqueued: time.Now()}

	select {
	case eq.eventChan <- event:
		eq.mu.Lock()
		eq.stats.Total++
		eq.mu.Unlock()
		return nil
	default:
		eq.mu.Lock()
		eq.stats.Dropped++
		eq.mu.Unlock()
		eq.logger.Printf("[EventQueue] %s: queue full, dropping %s", eq.sessionID, msg.Type)
		return ErrQueueFull
	}
}

// EnqueueSync 入队并等待 handler 返回
func (eq *EventQueue) EnqueueSync(msg *ClientMessage, timeout time.Duration) error {
	if eq.ctx.Err() != nil {
		return ErrQueueClosed
	}
	if timeout <= 0 {
		timeout = defaultEventTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	event := &queuedEvent{msg: msg, enqueued: time.Now(), resultCh: make(chan error, 1)}
	select {
	case eq.eventChan <- event:
		eq.mu.Lock()
		eq.stats.Total++
		eq.mu.Unlock()
	case <-timer.C:
		return errors.New("timeout enqueuing event")
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}

	select {
	case err := <-event.resultCh:
		return err
	case <-timer.C:
		return errors.New("timeout waiting for event processing")
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}
}

func (eq *EventQueue) processLoop() {
	defer eq.wg.Done()
	for {
		select {
		case <-eq.ctx.Done():
			return
		case event := <-eq.eventChan:
			eq.process(event)
		}
	}
}

func (eq *EventQueue) process(event *queuedEvent) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(eq.ctx, defaultEventTimeout)
	err := eq.handler(ctx, event.msg)
	cancel()
	elapsed := time.Since(start)

	eq.mu.Lock()
	eq.stats.Processed++
	if err != nil {
		eq.stats.Failed++
	}
	eq.mu.Unlock()

	if err != nil {
		eq.logger.Printf("[EventQueue] %s: %s failed: %v", eq.sessionID, event.msg.Type, err)
	}
	if elapsed > slowEventThreshold {
		eq.logger.Printf("[EventQueue] %s: slow event %s took %v (queued %v)",
			eq.sessionID, event.msg.Type, elapsed, start.Sub(event.enqueued))
	}
	if event.resultCh != nil {
		event.resultCh <- err
	}
}

// Close 停止处理；未处理的事件被丢弃
func (eq *EventQueue) Close() error {
	eq.cancel()
	eq.wg.Wait()

	st := eq.Stats()
	eq.logger.Printf("[EventQueue] %s closed: total=%d processed=%d failed=%d dropped=%d pending=%d",
		eq.sessionID, st.Total, st.Processed, st.Failed, st.Dropped, st.Pending)
	return nil
}

func (eq *EventQueue) Stats() QueueStats {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	st := eq.stats
	st.Pending = len(eq.eventChan)
	st.Capacity = cap(eq.eventChan)
	return st
}
