package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/realmhist/internal/adapters/mq/queue"
	worker "github.com/okian/realmhist/internal/adapters/mq/worker"
	logging "github.com/okian/realmhist/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type recordingHandler struct {
	mu      sync.Mutex
	handled []string
	fail    map[string]error
	panicOn string
	block   chan struct{}
	started chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{fail: make(map[string]error), started: make(chan string, 16)}
}

func (h *recordingHandler) Handle(ctx context.Context, job queue.Job) error {
	h.started <- job.SessionID
	if job.SessionID == h.panicOn {
		panic("boom")
	}
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			h.record(job.SessionID + ":aborted")
			return ctx.Err()
		}
	}
	h.record(job.SessionID)
	return h.fail[job.SessionID]
}

func (h *recordingHandler) record(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, s)
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.handled...)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func enqueue(q *queue.InMemoryQueue, ids ...string) {
	for _, id := range ids {
		_ = q.Enqueue(context.Background(), queue.Job{SessionID: id, RealmID: "eu-1"})
	}
}

func TestWorker(t *testing.T) {
	convey.Convey("Given a worker over a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		h := newRecordingHandler()
		h.fail["s2"] = errors.New("import failed")
		h.panicOn = "s3"
		w := worker.NewInMemoryWorker(q, h, worker.WithName("test"), worker.WithLogger(logging.Nop()))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When jobs are queued", func() {
			enqueue(q, "s1", "s2", "s3", "s4")

			convey.Convey("Then they run in order and failures do not stop the worker", func() {
				convey.So(waitFor(func() bool { return len(h.seen()) == 3 }), convey.ShouldBeTrue)
				convey.So(h.seen(), convey.ShouldResemble, []string{"s1", "s2", "s4"})
			})
		})

		convey.Convey("When shut down while idle", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()

			convey.Convey("Then it stops cleanly", func() {
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a worker running a long job", t, func() {
		q := queue.NewInMemoryQueue()
		h := newRecordingHandler()
		h.block = make(chan struct{})
		w := worker.NewInMemoryWorker(q, h, worker.WithLogger(logging.Nop()), worker.WithAbortGrace(time.Second))
		go w.Run(context.Background())
		enqueue(q, "long")
		convey.So(<-h.started, convey.ShouldEqual, "long")

		convey.Convey("When shutdown runs out of time", func() {
			sctx, scancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer scancel()
			err := w.Shutdown(sctx)

			convey.Convey("Then the job is cancelled and the worker stops", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(h.seen(), convey.ShouldResemble, []string{"long:aborted"})
			})
		})

		convey.Convey("When the job finishes within the shutdown budget", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			time.AfterFunc(10*time.Millisecond, func() { close(h.block) })

			convey.Convey("Then it completes normally", func() {
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
				convey.So(h.seen(), convey.ShouldResemble, []string{"long"})
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a started pool", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		h := newRecordingHandler()
		p := worker.NewPool(0, q, h, worker.WithLogger(logging.Nop()))
		p.Start(context.Background())

		convey.Convey("When jobs are queued and the pool shuts down", func() {
			enqueue(q, "s1", "s2")
			convey.So(waitFor(func() bool { return len(h.seen()) == 2 }), convey.ShouldBeTrue)

			err := p.Shutdown(context.Background())

			convey.Convey("Then the queue is closed and nothing is left", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
				convey.So(q.Drain(), convey.ShouldBeEmpty)
			})
		})
	})
}
