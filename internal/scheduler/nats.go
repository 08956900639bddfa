package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Job is the message body of a resume unit.
type Job struct {
	RunID string `json:"run_id"`
}

// NATS publishes resume units on a subject. Any worker in the queue group may pick them up.
type NATS struct {
	Conn    *nats.Conn
	Subject string
}

func (n *NATS) Schedule(_ context.Context, runID string) error {
	if runID == "" {
		return errors.New("run_id is required")
	}
	data, err := json.Marshal(Job{RunID: runID})
	if err != nil {
		return fmt.Errorf("marshal resume job: %w", err)
	}
	if err := n.Conn.Publish(n.Subject, data); err != nil {
		return fmt.Errorf("publish resume job: %w", err)
	}
	unitsTotal.WithLabelValues("nats", "published").Inc()
	return nil
}

func (n *NATS) Close() error {
	return n.Conn.Flush()
}

// Worker consumes resume units from a queue group.
type Worker struct {
	r   *runner
	sub *nats.Subscription
}

func StartWorker(conn *nats.Conn, subject, queue string, drive DriveFunc, logger *zap.Logger) (*Worker, error) {
	w := &Worker{r: newRunner("nats", drive, logger)}
	sub, err := conn.QueueSubscribe(subject, queue, w.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	w.sub = sub
	return w, nil
}

func (w *Worker) handle(msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.RunID == "" {
		w.r.logger.Warn("dropping malformed resume job", zap.String("subject", msg.Subject), zap.ByteString("data", msg.Data))
		return
	}
	if err := w.r.start(job.RunID); err != nil {
		w.r.logger.Debug("resume job coalesced", zap.String("run_id", job.RunID), zap.Error(err))
	}
}

// Shutdown stops consuming and waits for in-flight units until ctx ends.
func (w *Worker) Shutdown(ctx context.Context) error {
	if err := w.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return w.r.wait(ctx)
}

func (w *Worker) Close() error {
	return w.Shutdown(context.Background())
}
