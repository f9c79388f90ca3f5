package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/keyguard/internal/domain/model"
)

func submission(id string) model.Submission {
	return model.Submission{SubmissionID: id, Identity: "alice", QuestionID: "q1"}
}

func TestInMemoryQueue(t *testing.T) {
	ctx := context.Background()

	Convey("Given a queue with capacity 2", t, func() {
		q := NewInMemoryQueue(WithCapacity(2))

		Convey("When it is empty", func() {
			Convey("Then its length should be zero", func() {
				So(q.Len(ctx), ShouldEqual, 0)
				So(q.Cap(), ShouldEqual, 2)
			})
		})

		Convey("When a submission is enqueued and dequeued", func() {
			So(q.Enqueue(ctx, submission("s1")), ShouldBeNil)
			So(q.Len(ctx), ShouldEqual, 1)
			got := <-q.Dequeue(ctx)

			Convey("Then the same submission should come out", func() {
				So(got.SubmissionID, ShouldEqual, "s1")
				So(q.Len(ctx), ShouldEqual, 0)
			})
		})

		Convey("When the queue is full", func() {
			So(q.Enqueue(ctx, submission("s1")), ShouldBeNil)
			So(q.Enqueue(ctx, submission("s2")), ShouldBeNil)
			err := q.Enqueue(ctx, submission("s3"))

			Convey("Then enqueue should report backpressure", func() {
				So(err, ShouldEqual, ErrFull)
				So(q.Len(ctx), ShouldEqual, 2)
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			Convey("Then enqueue should fail with the context error", func() {
				So(q.Enqueue(cctx, submission("s1")), ShouldEqual, context.Canceled)
			})
		})

		Convey("When the queue is closed with items pending", func() {
			So(q.Enqueue(ctx, submission("s1")), ShouldBeNil)
			So(q.Close(), ShouldBeNil)
			So(q.Close(), ShouldBeNil)

			Convey("Then new items are refused but pending ones drain", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(q.Enqueue(ctx, submission("s2")), ShouldEqual, ErrClosed)

				var drained []string
				timeout := time.After(time.Second)
			loop:
				for {
					select {
					case it, ok := <-q.Dequeue(ctx):
						if !ok {
							break loop
						}
						drained = append(drained, it.SubmissionID)
					case <-timeout:
						break loop
					}
				}
				So(drained, ShouldResemble, []string{"s1"})
			})
		})
	})

	Convey("Given concurrent producers and consumers", t, func() {
		q := NewInMemoryQueue(WithCapacity(100))
		const producers, perProducer = 10, 100

		var consumed sync.WaitGroup
		seen := make(chan string, producers*perProducer)
		for i := 0; i < 4; i++ {
			consumed.Add(1)
			go func() {
				defer consumed.Done()
				for it := range q.Dequeue(ctx) {
					seen <- it.SubmissionID
				}
			}()
		}

		var produced sync.WaitGroup
		for p := 0; p < producers; p++ {
			produced.Add(1)
			go func(p int) {
				defer produced.Done()
				for j := 0; j < perProducer; j++ {
					for q.Enqueue(ctx, submission(fmt.Sprintf("s%d_%d", p, j))) != nil {
						time.Sleep(time.Millisecond)
					}
				}
			}(p)
		}
		produced.Wait()
		So(q.Close(), ShouldBeNil)
		consumed.Wait()
		close(seen)

		Convey("Then every submission should be consumed exactly once", func() {
			unique := map[string]bool{}
			for id := range seen {
				unique[id] = true
			}
			So(len(unique), ShouldEqual, producers*perProducer)
			So(q.Len(ctx), ShouldEqual, 0)
		})
	})
}
