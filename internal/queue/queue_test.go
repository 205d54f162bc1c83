package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/channelChat/internal/data"
	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeAck records how a delivery was settled.
type fakeAck struct {
	acks     int
	nacks    int
	requeued bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error { f.acks++; return nil }

func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error { return f.Nack(tag, false, requeue) }

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

// fakeChannel implements Channel and Declarer.
type fakeChannel struct {
	mu         sync.Mutex
	published  []published
	publishErr error
	qos        int
	deliveries chan amqp.Delivery

	exchanges map[string]string
	queues    map[string]amqp.Table
	bindings  []string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		deliveries: make(chan amqp.Delivery, 4),
		exchanges:  map[string]string{},
		queues:     map[string]amqp.Table{},
	}
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.qos = prefetchCount
	return nil
}

func (f *fakeChannel) ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if queue != RegistrationQueue || autoAck {
		return nil, fmt.Errorf("unexpected consume %q autoAck=%v", queue, autoAck)
	}
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, fmt.Errorf("queue %s must be durable", name)
	}
	f.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.bindings = append(f.bindings, exchange+"->"+key+"->"+name)
	return nil
}

// fakeProfiles fails the first failN calls, then succeeds.
type fakeProfiles struct {
	mu      sync.Mutex
	failN   int
	calls   int
	created []data.NewProfile
}

func (f *fakeProfiles) CreateProfile(ctx context.Context, np data.NewProfile) (*data.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return nil, errors.New("store unavailable")
	}
	f.created = append(f.created, np)
	return &data.Profile{ID: int64(len(f.created)), Email: strings.ToLower(np.Email)}, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const validBody = `{"email": "a@b.com", "first_name": "A", "last_name": "B"}`

func delivery(ack *fakeAck, body string, headers amqp.Table) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body), Headers: headers, ContentType: "application/json"}
}

func newTestConsumer(ch *fakeChannel, profiles *fakeProfiles) *Consumer {
	return NewConsumer(ch, profiles, Options{MaxRetries: 5, BackoffBase: 2 * time.Second, OpTimeout: time.Second}, quietLogger())
}

func TestHandleSuccessCreatesOneProfile(t *testing.T) {
	ch := newFakeChannel()
	profiles := &fakeProfiles{}
	c := newTestConsumer(ch, profiles)
	ack := &fakeAck{}

	if got := c.Handle(context.Background(), delivery(ack, validBody, nil)); got != Acked {
		t.Fatalf("outcome = %v, want acked", got)
	}
	if ack.acks != 1 || ack.nacks != 0 {
		t.Fatalf("acks=%d nacks=%d", ack.acks, ack.nacks)
	}
	if len(profiles.created) != 1 || profiles.created[0].Email != "a@b.com" || profiles.created[0].FirstName != "A" {
		t.Fatalf("created = %+v", profiles.created)
	}
	if len(ch.published) != 0 {
		t.Fatal("success must not publish a retry")
	}
}

func TestHandleFailureSchedulesDelayedRetry(t *testing.T) {
	for retries := 0; retries < 5; retries++ {
		t.Run(fmt.Sprintf("retry_count=%d", retries), func(t *testing.T) {
			ch := newFakeChannel()
			c := newTestConsumer(ch, &fakeProfiles{failN: 1})
			ack := &fakeAck{}

			got := c.Handle(context.Background(), delivery(ack, validBody, amqp.Table{"retry_count": int32(retries), "trace": "x"}))
			if got != Retrying {
				t.Fatalf("outcome = %v, want retrying", got)
			}
			if ack.acks != 1 || ack.nacks != 0 {
				t.Fatalf("original not acked: acks=%d nacks=%d", ack.acks, ack.nacks)
			}
			if len(ch.published) != 1 {
				t.Fatalf("published %d messages, want 1", len(ch.published))
			}

			p := ch.published[0]
			if p.exchange != DeadLetterExchange || p.key != RetryQueue {
				t.Fatalf("published to %s/%s", p.exchange, p.key)
			}
			if n := retryCount(p.msg.Headers); n != retries+1 {
				t.Fatalf("retry_count = %d, want %d", n, retries+1)
			}
			if p.msg.Headers["trace"] != "x" {
				t.Fatal("existing headers not preserved")
			}
			wantMs := fmt.Sprint((int64(1) << (retries + 1)) * 1000)
			if p.msg.Expiration != wantMs {
				t.Fatalf("expiration = %s, want %s", p.msg.Expiration, wantMs)
			}
			if string(p.msg.Body) != validBody || p.msg.DeliveryMode != amqp.Persistent {
				t.Fatal("retry copy must carry the original body persistently")
			}
		})
	}
}

func TestHandleDeadLettersAtMaxRetries(t *testing.T) {
	for _, retries := range []any{int32(5), int64(6), "5", float64(5)} {
		ch := newFakeChannel()
		c := newTestConsumer(ch, &fakeProfiles{failN: 1})
		ack := &fakeAck{}

		got := c.Handle(context.Background(), delivery(ack, validBody, amqp.Table{"retry_count": retries}))
		if got != DeadLettered {
			t.Fatalf("retry_count %v: outcome = %v, want dead_lettered", retries, got)
		}
		if ack.nacks != 1 || ack.requeued || ack.acks != 0 {
			t.Fatalf("retry_count %v: expected nack without requeue, got %+v", retries, ack)
		}
		if len(ch.published) != 0 {
			t.Fatalf("retry_count %v: dead-lettered message must not be republished", retries)
		}
	}
}

func TestHandleInvalidEventIsRetried(t *testing.T) {
	ch := newFakeChannel()
	profiles := &fakeProfiles{}
	c := newTestConsumer(ch, profiles)

	for _, body := range []string{"not json", `{"first_name":"A"}`, `{"email":"   "}`} {
		ack := &fakeAck{}
		if got := c.Handle(context.Background(), delivery(ack, body, nil)); got != Retrying {
			t.Fatalf("body %q: outcome = %v", body, got)
		}
	}
	if profiles.calls != 0 {
		t.Fatal("invalid events must not reach the store")
	}
}

func TestHandlePublishFailureRequeuesOriginal(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")
	c := newTestConsumer(ch, &fakeProfiles{failN: 1})
	ack := &fakeAck{}

	if got := c.Handle(context.Background(), delivery(ack, validBody, nil)); got != Requeued {
		t.Fatalf("outcome = %v, want requeued", got)
	}
	if ack.nacks != 1 || !ack.requeued || ack.acks != 0 {
		t.Fatalf("expected nack with requeue, got %+v", ack)
	}
}

func TestRetryCounterIsMonotonic(t *testing.T) {
	// follow one event through every redelivery until it is dead-lettered
	ch := newFakeChannel()
	c := newTestConsumer(ch, &fakeProfiles{failN: 100})

	headers := amqp.Table(nil)
	last := -1
	for i := 0; i < 10; i++ {
		ack := &fakeAck{}
		outcome := c.Handle(context.Background(), delivery(ack, validBody, headers))
		if outcome == DeadLettered {
			if last != 5 {
				t.Fatalf("dead-lettered after retry_count %d, want 5", last)
			}
			return
		}
		p := ch.published[len(ch.published)-1]
		n := retryCount(p.msg.Headers)
		if n <= last {
			t.Fatalf("retry_count went from %d to %d", last, n)
		}
		last = n
		headers = p.msg.Headers
	}
	t.Fatal("event was never dead-lettered")
}

func TestBackoff(t *testing.T) {
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	for i, w := range want {
		if got := Backoff(2*time.Second, i+1); got != w {
			t.Errorf("Backoff(2s, %d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRetryCount(t *testing.T) {
	cases := []struct {
		h    amqp.Table
		want int
	}{
		{nil, 0},
		{amqp.Table{}, 0},
		{amqp.Table{"retry_count": int32(3)}, 3},
		{amqp.Table{"retry_count": "4"}, 4},
		{amqp.Table{"retry_count": "x"}, 0},
		{amqp.Table{"retry_count": int64(-2)}, 0},
		{amqp.Table{"retry_count": []byte("1")}, 0},
	}
	for _, tc := range cases {
		if got := retryCount(tc.h); got != tc.want {
			t.Errorf("retryCount(%v) = %d, want %d", tc.h, got, tc.want)
		}
	}
}

func TestRunProcessesSequentiallyAndStops(t *testing.T) {
	ch := newFakeChannel()
	profiles := &fakeProfiles{}
	c := newTestConsumer(ch, profiles)

	ack1, ack2 := &fakeAck{}, &fakeAck{}
	ch.deliveries <- delivery(ack1, validBody, nil)
	ch.deliveries <- delivery(ack2, `{"email":"c@d.com"}`, nil)
	close(ch.deliveries)

	err := c.Run(context.Background())
	if !errors.Is(err, ErrDeliveriesClosed) {
		t.Fatalf("Run returned %v, want ErrDeliveriesClosed", err)
	}
	if ch.qos != 1 {
		t.Fatalf("prefetch = %d, want 1", ch.qos)
	}
	if ack1.acks != 1 || ack2.acks != 1 || len(profiles.created) != 2 {
		t.Fatalf("deliveries not processed: %+v %+v created=%d", ack1, ack2, len(profiles.created))
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	ch := newFakeChannel()
	c := newTestConsumer(ch, &fakeProfiles{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestDeclareTopology(t *testing.T) {
	ch := newFakeChannel()
	if err := Declare(ch, 60*time.Second); err != nil {
		t.Fatalf("Declare: %v", err)
	}

	if ch.exchanges[UserEventsExchange] != amqp.ExchangeFanout || ch.exchanges[DeadLetterExchange] != amqp.ExchangeDirect {
		t.Fatalf("exchanges = %v", ch.exchanges)
	}
	main := ch.queues[RegistrationQueue]
	if main["x-dead-letter-exchange"] != DeadLetterExchange || main["x-dead-letter-routing-key"] != DeadLetterQueue {
		t.Fatalf("main queue args = %v", main)
	}
	retry := ch.queues[RetryQueue]
	if retry["x-message-ttl"] != int64(60000) || retry["x-dead-letter-exchange"] != "" || retry["x-dead-letter-routing-key"] != RegistrationQueue {
		t.Fatalf("retry queue args = %v", retry)
	}
	if _, ok := ch.queues[DeadLetterQueue]; !ok {
		t.Fatal("dead-letter queue not declared")
	}

	want := map[string]bool{}
	want[UserEventsExchange+"->->"+RegistrationQueue] = true
	want[DeadLetterExchange+"->"+RetryQueue+"->"+RetryQueue] = true
	want[DeadLetterExchange+"->"+DeadLetterQueue+"->"+DeadLetterQueue] = true
	if len(ch.bindings) != len(want) {
		t.Fatalf("bindings = %v", ch.bindings)
	}
	for _, b := range ch.bindings {
		if !want[b] {
			t.Fatalf("unexpected binding %s", b)
		}
	}
}
