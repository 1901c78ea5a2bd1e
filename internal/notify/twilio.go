package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// TwilioGateway 通过 Twilio 发送短信
type TwilioGateway struct {
	logger     *zap.Logger
	client     *twilio.RestClient
	fromNumber string
}

// NewTwilioGateway 创建 Twilio 网关
func NewTwilioGateway(logger *zap.Logger, accountSID, authToken, fromNumber string) *TwilioGateway {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &TwilioGateway{
		logger:     logger,
		client:     client,
		fromNumber: fromNumber,
	}
}

// Send 发送短信
func (t *TwilioGateway) Send(ctx context.Context, address string, msg Message) error {
	params := &api.CreateMessageParams{}
	params.SetTo(address)
	params.SetFrom(t.fromNumber)
	params.SetBody(msg.Body)

	return runWithContext(ctx, func() error {
		resp, err := t.client.Api.CreateMessage(params)
		if err != nil {
			return fmt.Errorf("twilio create message: %w", err)
		}
		if resp.Sid != nil {
			t.logger.Debug("Twilio message queued", zap.String("sid", *resp.Sid))
		}
		return nil
	})
}
