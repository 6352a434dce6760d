package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classtrack/internal/analytics"
	"classtrack/internal/config"
	"classtrack/internal/ledger"
	"classtrack/internal/mlclient"
	"classtrack/internal/notifier"
	"classtrack/internal/notify"
	"classtrack/internal/queue"
	"classtrack/internal/session"
	"classtrack/internal/store"
)

// Worker consumes attendance events: forwards notifications, closes out
// completed sessions (enrolled students without a record become absent),
// and runs advisory ML risk scoring.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:events")
	}

	sessionRepo := session.NewRepository(db.Client)
	led := ledger.New(ledger.NewRepository(db.Client))
	aggregator := analytics.NewAggregator(led, sessionRepo)
	classifier := analytics.NewClassifier(cfg.RiskThresholdHigh, cfg.RiskThresholdMed)
	notifierClient := notifier.New(cfg.NotifyServiceURL, cfg.NotifySkip)
	ml := mlclient.New(cfg.MLServiceURL, cfg.MLSkip)

	if !cfg.MLSkip {
		if err := ml.Health(ctx); err != nil {
			log.Printf("WARNING: ml service not available: %v", err)
			log.Println("worker falls back to rule-based risk tiers")
		} else {
			log.Println("ml service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	w := &worker{
		sessions:   sessionRepo,
		led:        led,
		aggregator: aggregator,
		classifier: classifier,
		notifier:   notifierClient,
		ml:         ml,
		target:     cfg.TargetAttendancePc,
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		var evt notify.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad event body: %v", err)
			continue
		}
		switch msg.Type {
		case notify.TypeAttendanceRecorded:
			w.handleRecorded(ctx, evt)
		case notify.TypeSessionCompleted:
			w.handleCompleted(ctx, evt)
		default:
			log.Printf("skipping unknown message type %q", msg.Type)
		}
	}

	log.Println("worker stopped")
}

type worker struct {
	sessions   *session.Repository
	led        *ledger.Ledger
	aggregator *analytics.Aggregator
	classifier analytics.Classifier
	notifier   *notifier.Client
	ml         *mlclient.Client
	target     float64
}

// handleRecorded forwards one verification outcome to the notification service.
func (w *worker) handleRecorded(ctx context.Context, evt notify.Event) {
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := w.notifier.Send(sendCtx, evt); err != nil {
		// Bounded retry; a dead notification service must not stall the queue.
		time.Sleep(500 * time.Millisecond)
		if err := w.notifier.Send(sendCtx, evt); err != nil {
			log.Printf("notify %s/%s failed: %v", evt.StudentID, evt.SessionID, err)
		}
	}
}

// handleCompleted closes out a session: enrolled students with no record are
// marked absent, then each student's risk is rescored.
func (w *worker) handleCompleted(ctx context.Context, evt notify.Event) {
	sess, err := w.sessions.Get(ctx, evt.SessionID)
	if err != nil {
		log.Printf("fetch session %s failed: %v", evt.SessionID, err)
		return
	}
	if sess.Status != session.StatusCompleted {
		log.Printf("session %s is %s, skipping close-out", sess.ID, sess.Status)
		return
	}

	students, err := w.led.EnrolledStudents(ctx, sess.ClassID)
	if err != nil {
		log.Printf("list enrollments for class %s failed: %v", sess.ClassID, err)
		return
	}

	for _, studentID := range students {
		existing, err := w.led.Existing(ctx, studentID, sess.ID)
		if err != nil {
			log.Printf("check record %s/%s failed: %v", studentID, sess.ID, err)
			continue
		}
		if existing == nil || !existing.Status.Accepted() {
			// Absent outranks rejected attempts but never an accepted scan;
			// the ledger ordering makes this write safe to repeat.
			_, applied, err := w.led.Append(ctx, ledger.Record{
				StudentID: studentID,
				SessionID: sess.ID,
				Status:    ledger.StatusAbsent,
			})
			if err != nil {
				log.Printf("mark absent %s/%s failed: %v", studentID, sess.ID, err)
				continue
			}
			if applied {
				w.handleRecorded(ctx, notify.Event{
					Type:      notify.TypeAttendanceRecorded,
					StudentID: studentID,
					SessionID: sess.ID,
					ClassID:   sess.ClassID,
					Status:    ledger.StatusAbsent,
					At:        time.Now().UTC(),
				})
			}
		}
		w.rescore(ctx, studentID, sess.ClassID)
	}
	log.Printf("session %s closed out (%d enrolled)", sess.ID, len(students))
}

// rescore recomputes a student's risk, preferring the ML oracle and failing
// closed to the rule-based tiers when it is unavailable.
func (w *worker) rescore(ctx context.Context, studentID, classID string) {
	sum, err := w.aggregator.Summarize(ctx, studentID, classID)
	if err != nil {
		log.Printf("summarize %s/%s failed: %v", studentID, classID, err)
		return
	}
	remaining, err := w.aggregator.Remaining(ctx, classID, time.Now().UTC())
	if err != nil {
		remaining = 0
	}
	flag := w.classifier.Classify(sum, w.target, remaining)
	if flag == nil {
		return
	}

	scoreCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := w.ml.Score(scoreCtx, mlclient.ScoreRequest{
		StudentID:     studentID,
		ClassID:       classID,
		Percentage:    sum.Percentage,
		AttendedCount: sum.AttendedCount,
		LateCount:     sum.LateCount,
		AbsentCount:   sum.AbsentCount,
		TotalSessions: sum.TotalSessions,
	})
	if err != nil {
		log.Printf("ml score %s/%s unavailable, using tier %s: %v", studentID, classID, flag.Tier, err)
		return
	}
	if result.Flagged || flag.Tier == analytics.TierCritical || flag.Tier == analytics.TierHigh {
		log.Printf("student %s at risk in class %s: tier=%s pct=%.2f ml=%.1f needs=%d reachable=%v",
			studentID, classID, flag.Tier, flag.Percentage, result.Score,
			flag.Projection.ClassesNeeded, flag.Projection.CanReachTarget)
	}
}
