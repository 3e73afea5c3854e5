package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storybook/internal/infra"
)

// StartMessage asks a worker to run one job.
type StartMessage struct {
	JobID       string    `json:"job_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Publisher is the slice of bus.Client used to send start messages.
type Publisher interface {
	PublishJSON(ctx context.Context, subject string, v any) error
}

// NATS dispatches by publishing a StartMessage for a worker to pick up.
type NATS struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

func NewNATS(pub Publisher, subject string) *NATS {
	return &NATS{pub: pub, subject: subject, now: time.Now}
}

func (n *NATS) Dispatch(ctx context.Context, jobID string) error {
	msg := StartMessage{JobID: jobID, RequestedAt: n.now().UTC()}
	if err := n.pub.PublishJSON(ctx, n.subject, msg); err != nil {
		return fmt.Errorf("dispatch: publish %s: %w", n.subject, err)
	}
	return nil
}

// DecodeStart parses a start message.
func DecodeStart(data []byte) (StartMessage, error) {
	var msg StartMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("dispatch: decode start message: %w", err)
	}
	msg.JobID = strings.TrimSpace(msg.JobID)
	if msg.JobID == "" {
		return msg, errors.New("dispatch: start message without job id")
	}
	return msg, nil
}

// Relay returns a message handler that hands each decoded start message to
// local. Workers use it to bridge the bus onto an InProcess dispatcher.
func Relay(local Dispatcher, logger *infra.Logger) func(data []byte) {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return func(data []byte) {
		msg, err := DecodeStart(data)
		if err != nil {
			logger.Warn().Err(err).Msg("dispatch: dropping start message")
			return
		}
		if err := local.Dispatch(context.Background(), msg.JobID); err != nil {
			logger.Error().Err(err).Str("job_id", msg.JobID).Msg("dispatch: relay failed")
			return
		}
		logger.Info().
			Str("job_id", msg.JobID).
			Dur("queued_for", time.Since(msg.RequestedAt)).
			Msg("dispatch: job received")
	}
}

var _ Dispatcher = (*NATS)(nil)
