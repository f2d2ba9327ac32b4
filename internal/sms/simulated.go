package sms

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

const SimulatedMessageID = "SIMULATED"

// SimulatedSender logs messages instead of sending them. Used when no SMS
// provider credentials are configured.
type SimulatedSender struct {
	log logrus.FieldLogger
}

func NewSimulatedSender(log logrus.FieldLogger) *SimulatedSender {
	return &SimulatedSender{log: log.WithField("sender", "simulated")}
}

func (s *SimulatedSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	s.log.WithFields(logrus.Fields{"to": msg.To, "key": msg.Key}).Infof("Simulated SMS: %s", msg.Body)
	return SimulatedMessageID, nil
}
