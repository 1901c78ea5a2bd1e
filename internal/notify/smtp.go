package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPConfig 邮件服务器配置
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// SMTPGateway 通过 SMTP 发送邮件
type SMTPGateway struct {
	cfg  SMTPConfig
	opts []mail.Option
	send func(ctx context.Context, m *mail.Msg) error
}

// NewSMTPGateway 创建邮件网关，配置无效时返回错误
func NewSMTPGateway(cfg SMTPConfig) (*SMTPGateway, error) {
	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithPort(cfg.Port),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if _, err := mail.NewClient(cfg.Host, opts...); err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	s := &SMTPGateway{cfg: cfg, opts: opts}
	s.send = s.dialAndSend
	return s, nil
}

// Send 发送纯文本邮件
func (s *SMTPGateway) Send(ctx context.Context, address string, msg Message) error {
	m := mail.NewMsg()
	from := m.From
	if s.cfg.FromName != "" {
		from = func(addr string) error { return m.FromFormat(s.cfg.FromName, addr) }
	}
	if err := from(s.cfg.FromEmail); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(address); err != nil {
		return fmt.Errorf("parse recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := s.send(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// dialAndSend 每次发送使用独立连接，发送 worker 之间不共享客户端
func (s *SMTPGateway) dialAndSend(ctx context.Context, m *mail.Msg) error {
	client, err := mail.NewClient(s.cfg.Host, s.opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, m)
}
