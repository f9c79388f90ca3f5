package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/keyguard/internal/app"
	"github.com/okian/keyguard/internal/adapters/repository"
	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/scoring"
	"github.com/okian/keyguard/internal/domain/template"
	"github.com/okian/keyguard/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// typed returns n printable keystrokes with fixed hold and gap times (ms).
func typed(n int, hold, gap float64) []model.KeyEvent {
	events := make([]model.KeyEvent, 0, 2*n)
	for i := 0; i < n; i++ {
		down := float64(i) * gap
		key := string(rune('a' + i%26))
		events = append(events,
			model.KeyEvent{Type: model.KeyDown, Key: key, TS: model.Ptr(down)},
			model.KeyEvent{Type: model.KeyUp, Key: key, TS: model.Ptr(down + hold)},
		)
	}
	return events
}

func started(opts ...service.Option) *service.Service {
	svc := service.New(append([]service.Option{
		service.WithWorkerCount(2),
		service.WithQueueSize(64),
		service.WithLogger(logger.NewNop()),
	}, opts...)...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service that was never started", t, func() {
		svc := service.New()

		Convey("Then stateful operations should report ErrNotStarted", func() {
			_, err := svc.AddSample(ctx, "alice", typed(50, 100, 150))
			So(err, ShouldEqual, service.ErrNotStarted)
			_, err = svc.Verify(ctx, "alice", typed(50, 100, 150))
			So(err, ShouldEqual, service.ErrNotStarted)
			_, err = svc.SubmitAnswer(ctx, model.Submission{Identity: "alice"})
			So(err, ShouldEqual, service.ErrNotStarted)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("Then extraction should still work", func() {
			res := svc.Extract(ctx, typed(10, 100, 150))
			So(res.Vector, ShouldHaveLength, 64)
			So(res.Meta.Chars, ShouldEqual, 10)
		})
	})

	Convey("Given a started service", t, func() {
		svc := started()

		Convey("When it is stopped twice", func() {
			svc.Stop()
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})

			Convey("And it can be started again", func() {
				So(svc.Start(ctx), ShouldBeNil)
				defer svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, true)
			})
		})

		Convey("When reading stats", func() {
			defer svc.Stop()
			stats := svc.GetStats()

			Convey("Then they should describe the running configuration", func() {
				So(stats["started"], ShouldEqual, true)
				So(stats["storeDriver"], ShouldEqual, "memory")
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["queueLength"], ShouldEqual, 0)
				So(stats["enrolledIdentities"], ShouldEqual, 0)
				So(stats["acceptThreshold"], ShouldEqual, 0.70)
			})
		})
	})

	Convey("Given an unknown store driver", t, func() {
		svc := service.New(service.WithStoreDriver("cassandra", ""), service.WithLogger(logger.NewNop()))

		Convey("Then Start should fail", func() {
			So(errors.Is(svc.Start(ctx), service.ErrUnknownStoreBackend), ShouldBeTrue)
		})
	})
}

func TestService_Enrollment(t *testing.T) {
	ctx := context.Background()

	Convey("Given a running service", t, func() {
		svc := started()
		Reset(svc.Stop)

		Convey("When a sample is below the minimums", func() {
			_, err := svc.AddSample(ctx, "alice", typed(20, 100, 150))

			Convey("Then it should be rejected with the observed counts", func() {
				So(errors.Is(err, service.ErrInsufficientSample), ShouldBeTrue)
				var ie *service.InsufficientEnrollmentError
				So(errors.As(err, &ie), ShouldBeTrue)
				So(ie.Chars, ShouldEqual, 20)
				So(ie.KeyEvents, ShouldEqual, 40)
				So(ie.MinChars, ShouldEqual, 40)
				So(ie.MinKeyEvents, ShouldEqual, 60)
			})

			Convey("And the identity should stay unknown", func() {
				_, err := svc.Profile(ctx, "alice")
				So(err, ShouldEqual, service.ErrNotFound)
			})
		})

		Convey("When the identity is blank", func() {
			_, err := svc.AddSample(ctx, "  ", typed(50, 100, 150))

			Convey("Then it should be rejected", func() {
				So(err, ShouldEqual, service.ErrInvalidIdentity)
			})
		})

		Convey("When finishing without samples", func() {
			_, err := svc.FinishEnrollment(ctx, "alice")

			Convey("Then ErrNoSamples should be returned", func() {
				So(err, ShouldEqual, service.ErrNoSamples)
			})
		})

		Convey("When three samples are added and enrollment finishes", func() {
			for i := 1; i <= 3; i++ {
				res, err := svc.AddSample(ctx, "alice", typed(50, 100, 150))
				So(err, ShouldBeNil)
				So(res.SamplesCount, ShouldEqual, i)
				So(res.SampleID, ShouldNotBeEmpty)
				So(res.Meta.Chars, ShouldEqual, 50)
			}
			p, err := svc.Profile(ctx, "alice")
			So(err, ShouldBeNil)
			So(p.State, ShouldEqual, model.StateEnrolling)

			out, err := svc.FinishEnrollment(ctx, "alice")
			So(err, ShouldBeNil)

			Convey("Then the identity should be enrolled with a fresh template", func() {
				So(out.Verdict, ShouldEqual, model.VerdictEnrolled)
				So(out.Template.NSamples, ShouldEqual, 3)
				So(out.Template.ModelVersion, ShouldEqual, "ks_v1_robust64")
				So(*out.Template.Scalars.MeanHold, ShouldAlmostEqual, 100.0)

				p, err := svc.Profile(ctx, "alice")
				So(err, ShouldBeNil)
				So(p.State, ShouldEqual, model.StateEnrolled)
				So(p.PendingSamples, ShouldEqual, 0)
				So(p.Templates, ShouldEqual, 1)
			})

			Convey("Then verifying the same rhythm should be accepted", func() {
				v, err := svc.Verify(ctx, "alice", typed(50, 100, 150))
				So(err, ShouldBeNil)
				So(v.Verdict, ShouldEqual, model.VerdictAccepted)
				So(v.Score, ShouldAlmostEqual, 1.0, 1e-6)
				So(v.ScalarScore, ShouldNotBeNil)
				So(*v.ScalarScore, ShouldEqual, 100)
				So(v.ID, ShouldNotBeEmpty)

				stored, err := svc.Verification(ctx, v.ID)
				So(err, ShouldBeNil)
				So(stored.Verdict, ShouldEqual, model.VerdictAccepted)
			})

			Convey("Then a pasted answer should be flagged whatever its score", func() {
				events := append(typed(10, 100, 150),
					model.KeyEvent{Type: model.Paste, TS: model.Ptr(2000.0), ClipboardLength: model.Ptr(500)})
				v, err := svc.Verify(ctx, "alice", events)
				So(err, ShouldBeNil)
				So(v.Verdict, ShouldEqual, model.VerdictSuspiciousPaste)
				So(v.PasteFlag, ShouldBeTrue)
				So(v.Meta.PasteDetectedExplicit, ShouldBeTrue)
			})

			Convey("Then verifying does not change enrollment", func() {
				_, err := svc.Verify(ctx, "alice", typed(50, 60, 300))
				So(err, ShouldBeNil)
				p, _ := svc.Profile(ctx, "alice")
				So(p.State, ShouldEqual, model.StateEnrolled)
				So(p.Templates, ShouldEqual, 1)
			})

			Convey("And re-enrollment should overwrite the template", func() {
				_, err := svc.AddSample(ctx, "alice", typed(60, 80, 120))
				So(err, ShouldBeNil)
				again, err := svc.FinishEnrollment(ctx, "alice")
				So(err, ShouldBeNil)
				So(again.Template.NSamples, ShouldEqual, 1)
				So(again.Template.ID, ShouldNotEqual, out.Template.ID)
				p, _ := svc.Profile(ctx, "alice")
				So(p.Templates, ShouldEqual, 1)
			})
		})

		Convey("When verifying an identity with no templates", func() {
			v, err := svc.Verify(ctx, "nobody", typed(50, 100, 150))

			Convey("Then the verdict should be no_template with a zero score", func() {
				So(err, ShouldBeNil)
				So(v.Verdict, ShouldEqual, model.VerdictNoTemplate)
				So(v.Score, ShouldEqual, 0)
				So(v.ScalarScore, ShouldBeNil)
			})
		})

		Convey("When looking up an unknown verification", func() {
			_, err := svc.Verification(ctx, "nope")

			Convey("Then ErrNotFound should be returned", func() {
				So(err, ShouldEqual, service.ErrNotFound)
			})
		})
	})

	Convey("Given relaxed enrollment minimums", t, func() {
		svc := started(service.WithEnrollmentMinimums(5, 10))
		Reset(svc.Stop)

		Convey("Then short samples should be accepted", func() {
			_, err := svc.AddSample(ctx, "bob", typed(6, 100, 150))
			So(err, ShouldBeNil)
		})
	})
}

// lateSampleStore adds one more sample while FinishEnrollment is between
// reading the pending samples and clearing them.
type lateSampleStore struct {
	repository.Store
	late model.Sample
	seen int
}

func (s *lateSampleStore) ReplaceTemplates(ctx context.Context, identity string, recs []template.Record) error {
	if s.seen == 0 {
		s.seen++
		if _, err := s.Store.AddSample(ctx, s.late); err != nil {
			return err
		}
	}
	return s.Store.ReplaceTemplates(ctx, identity, recs)
}

func TestService_FinishKeepsLateSamples(t *testing.T) {
	ctx := context.Background()

	Convey("Given a sample that arrives while enrollment is finishing", t, func() {
		store := &lateSampleStore{
			Store: repository.NewMemoryStore(ctx),
			late:  model.Sample{ID: "late-sample", Identity: "alice", Events: typed(50, 90, 140), Chars: 50, KeyEvents: 100},
		}
		svc := started(service.WithStore(store))
		Reset(svc.Stop)

		_, err := svc.AddSample(ctx, "alice", typed(50, 100, 150))
		So(err, ShouldBeNil)

		out, err := svc.FinishEnrollment(ctx, "alice")
		So(err, ShouldBeNil)

		Convey("Then only the sample that was read should be aggregated", func() {
			So(out.Template.NSamples, ShouldEqual, 1)
		})

		Convey("Then the late sample should stay pending", func() {
			pending, err := store.Samples(ctx, "alice")
			So(err, ShouldBeNil)
			So(pending, ShouldHaveLength, 1)
			So(pending[0].ID, ShouldEqual, "late-sample")

			p, err := svc.Profile(ctx, "alice")
			So(err, ShouldBeNil)
			So(p.PendingSamples, ShouldEqual, 1)
		})

		Convey("And the next enrollment should use it", func() {
			again, err := svc.FinishEnrollment(ctx, "alice")
			So(err, ShouldBeNil)
			So(again.Template.NSamples, ShouldEqual, 1)
			pending, _ := store.Samples(ctx, "alice")
			So(pending, ShouldBeEmpty)
		})
	})
}

func TestService_Thresholds(t *testing.T) {
	Convey("Given a service", t, func() {
		svc := service.New(service.WithThresholds(scoring.Thresholds{Accept: 0.8, Review: 0.6}))

		Convey("Then the configured thresholds should be in force", func() {
			So(svc.Thresholds().Accept, ShouldEqual, 0.8)
		})

		Convey("When thresholds are swapped", func() {
			So(svc.SetThresholds(scoring.Thresholds{Accept: 0.9, Review: 0.5}), ShouldBeNil)

			Convey("Then later calls should see them", func() {
				So(svc.Thresholds().Accept, ShouldEqual, 0.9)
				So(svc.Thresholds().Review, ShouldEqual, 0.5)
			})
		})

		Convey("When an inconsistent pair is set", func() {
			err := svc.SetThresholds(scoring.Thresholds{Accept: 0.4, Review: 0.5})

			Convey("Then it should be rejected and the old pair kept", func() {
				So(errors.Is(err, scoring.ErrInvalidThresholds), ShouldBeTrue)
				So(svc.Thresholds().Accept, ShouldEqual, 0.8)
			})
		})
	})
}

func TestService_SQLiteDriver(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service backed by sqlite", t, func() {
		path := filepath.Join(t.TempDir(), "kg.db")
		svc := started(service.WithStoreDriver("sqlite", path), service.WithEnrollmentMinimums(10, 20))

		for i := 0; i < 2; i++ {
			_, err := svc.AddSample(ctx, "carol", typed(30, 90, 140))
			So(err, ShouldBeNil)
		}
		_, err := svc.FinishEnrollment(ctx, "carol")
		So(err, ShouldBeNil)
		svc.Stop()

		Convey("When the service restarts on the same file", func() {
			again := started(service.WithStoreDriver("sqlite", path))
			defer again.Stop()
			v, err := again.Verify(ctx, "carol", typed(30, 90, 140))

			Convey("Then the persisted template should be used", func() {
				So(err, ShouldBeNil)
				So(v.Verdict, ShouldEqual, model.VerdictAccepted)
				So(v.Score, ShouldBeGreaterThan, 0.99)
			})
		})
	})
}

func TestService_SubmitAnswer(t *testing.T) {
	ctx := context.Background()

	Convey("Given an enrolled identity", t, func() {
		svc := started()
		Reset(svc.Stop)
		for i := 0; i < 2; i++ {
			_, err := svc.AddSample(ctx, "alice", typed(50, 100, 150))
			So(err, ShouldBeNil)
		}
		_, err := svc.FinishEnrollment(ctx, "alice")
		So(err, ShouldBeNil)

		sub := model.Submission{SubmissionID: "sub-1", Identity: "alice", QuestionID: "q1", Events: typed(50, 100, 150)}

		Convey("When an answer is submitted", func() {
			res, err := svc.SubmitAnswer(ctx, sub)
			So(err, ShouldBeNil)
			So(res.Duplicate, ShouldBeFalse)

			Convey("Then its verification should appear under the submission id", func() {
				var (
					v   model.Verification
					err error
				)
				deadline := time.Now().Add(2 * time.Second)
				for time.Now().Before(deadline) {
					if v, err = svc.Verification(ctx, "sub-1"); err == nil {
						break
					}
					time.Sleep(5 * time.Millisecond)
				}
				So(err, ShouldBeNil)
				So(v.SubmissionID, ShouldEqual, "sub-1")
				So(v.QuestionID, ShouldEqual, "q1")
				So(v.Verdict, ShouldEqual, model.VerdictAccepted)
			})

			Convey("Then a resubmission should be a duplicate", func() {
				again, err := svc.SubmitAnswer(ctx, sub)
				So(err, ShouldBeNil)
				So(again.Duplicate, ShouldBeTrue)
			})
		})

		Convey("When a submission has no id", func() {
			sub.SubmissionID = ""
			first, err := svc.SubmitAnswer(ctx, sub)
			So(err, ShouldBeNil)
			second, err := svc.SubmitAnswer(ctx, sub)
			So(err, ShouldBeNil)

			Convey("Then its content fingerprint should dedupe it", func() {
				So(first.SubmissionID, ShouldStartWith, "fp_")
				So(second.Duplicate, ShouldBeTrue)
				So(second.SubmissionID, ShouldEqual, first.SubmissionID)
			})
		})

		Convey("When a submission has no identity", func() {
			sub.Identity = ""
			_, err := svc.SubmitAnswer(ctx, sub)

			Convey("Then it should be rejected", func() {
				So(err, ShouldEqual, service.ErrInvalidIdentity)
			})
		})
	})
}
