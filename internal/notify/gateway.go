package notify

import (
	"context"
	"errors"

	"github.com/masslabs/passport/internal/models"
)

// ErrNoAddress 车主没有该渠道的联系方式
var ErrNoAddress = errors.New("no recipient address for channel")

// Message 渲染后的通知内容，短信只使用 Body
type Message struct {
	Subject string
	Body    string
}

// Gateway 通知网关，address 为手机号或邮箱
type Gateway interface {
	Send(ctx context.Context, address string, msg Message) error
}

// GatewayFunc 函数适配器
type GatewayFunc func(ctx context.Context, address string, msg Message) error

func (f GatewayFunc) Send(ctx context.Context, address string, msg Message) error {
	return f(ctx, address, msg)
}

// AddressFor 车主在该渠道的地址
func AddressFor(v *models.Vehicle, ch models.Channel) (string, error) {
	var addr string
	switch ch {
	case models.ChannelSMS:
		addr = v.OwnerPhone
	case models.ChannelEmail:
		addr = v.OwnerEmail
	}
	if addr == "" {
		return "", ErrNoAddress
	}
	return addr, nil
}

// runWithContext 在不支持 context 的客户端调用外加超时控制
func runWithContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
