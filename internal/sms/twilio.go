package sms

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"
)

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender sends through the Twilio Messages API.
type TwilioSender struct {
	api     messageCreator
	from    string
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

// NewTwilioSender builds a sender for the given account. ratePerSecond <= 0 disables throttling.
func NewTwilioSender(accountSID, authToken, from string, ratePerSecond float64, log logrus.FieldLogger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioSender(client.Api, from, ratePerSecond, log)
}

func newTwilioSender(api messageCreator, from string, ratePerSecond float64, log logrus.FieldLogger) *TwilioSender {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &TwilioSender{
		api:     api,
		from:    from,
		limiter: limiter,
		log:     log.WithField("sender", "twilio"),
	}
}

func (s *TwilioSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %v", ErrSendFailed, err)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(s.from)
	params.SetBody(msg.Body)

	type result struct {
		resp *twilioApi.ApiV2010Message
		err  error
	}
	// The Twilio client takes no context, so the call is raced against ctx.
	done := make(chan result, 1)
	go func() {
		resp, err := s.api.CreateMessage(params)
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrSendFailed, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("%w: %v", ErrSendFailed, res.err)
		}
		sid := ""
		if res.resp != nil && res.resp.Sid != nil {
			sid = *res.resp.Sid
		}
		s.log.WithFields(logrus.Fields{"to": msg.To, "sid": sid, "key": msg.Key}).Info("SMS sent")
		return sid, nil
	}
}
