package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"classroll/internal/roster"
)

// TypeAttendance marks a message carrying an attendance change.
const TypeAttendance = "attendance"

// ErrFull is returned by InMemory.Publish when no slot is free.
var ErrFull = errors.New("queue full")

// Message is one queued notification; Body depends on Type.
type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// Queue carries attendance notifications from the API to the sheet forwarder.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a channel-backed queue for a single process without Redis.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a queue holding up to size pending messages.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues msg without waiting; a full queue drops it with ErrFull.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Consume streams queued messages until ctx ends.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue keeps messages as JSON in a Redis list shared by api and worker.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue pushes with LPUSH and pops with BRPOP on key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "classroll:attendance"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish appends msg to the list.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, b).Err()
}

// Consume streams messages using BRPOP. Undecodable entries are dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// AttendanceChange is the body of a TypeAttendance message.
type AttendanceChange struct {
	StudentID string `json:"student_id"`
	ClassID   string `json:"class_id"`
	Present   bool   `json:"present"`
	Date      string `json:"date"`
}

// Decode reads the attendance change carried by msg.
func (m Message) Decode() (AttendanceChange, error) {
	if m.Type != TypeAttendance {
		return AttendanceChange{}, fmt.Errorf("unexpected message type %q", m.Type)
	}
	var c AttendanceChange
	if err := json.Unmarshal(m.Body, &c); err != nil {
		return AttendanceChange{}, fmt.Errorf("decode attendance change: %w", err)
	}
	return c, nil
}

// Publisher forwards stored attendance changes to a queue.
type Publisher struct {
	Queue Queue
}

// AttendanceChanged publishes row as a TypeAttendance message.
func (p Publisher) AttendanceChanged(ctx context.Context, row roster.Row) error {
	body, err := json.Marshal(AttendanceChange{
		StudentID: row.StudentID,
		ClassID:   row.ClassID,
		Present:   row.Present,
		Date:      row.Date,
	})
	if err != nil {
		return err
	}
	return p.Queue.Publish(ctx, Message{Type: TypeAttendance, Body: body})
}
