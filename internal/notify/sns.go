package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snsTypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// snsPublisher *sns.Client 的子集
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSGateway 通过 AWS SNS 发送短信
type SNSGateway struct {
	logger *zap.Logger
	client snsPublisher
}

// NewSNSGateway 使用默认凭证链创建 SNS 网关
func NewSNSGateway(ctx context.Context, logger *zap.Logger, region string) (*SNSGateway, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SNSGateway{
		logger: logger,
		client: sns.NewFromConfig(cfg),
	}, nil
}

// Send 发送事务类短信
func (a *SNSGateway) Send(ctx context.Context, address string, msg Message) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(address),
		Message:     aws.String(msg.Body),
		MessageAttributes: map[string]snsTypes.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}

	resp, err := a.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	if resp.MessageId != nil {
		a.logger.Debug("SNS message published", zap.String("message_id", *resp.MessageId))
	}
	return nil
}
