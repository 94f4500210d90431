package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/visualml/visualml_go_server/config"
)

type Service struct {
	cfg *config.EmailConfig
}

func NewService(cfg *config.EmailConfig) *Service {
	return &Service{cfg: cfg}
}

// Enabled SMTP 是否已配置
func (s *Service) Enabled() bool {
	return s.cfg != nil && s.cfg.SMTPHost != ""
}

// SendRunFinished 训练作业到达终态时通知提交者
func (s *Service) SendRunFinished(to, runID, taskTarget, status, message string) error {
	subject := fmt.Sprintf("训练完成通知 - %s", status)
	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2563eb;">训练作业已结束</h2>
        <p>您好，</p>
        <p>您提交的训练作业已到达终态：</p>
        <table style="border-collapse: collapse; width: 100%%;">
            <tr><td style="padding: 6px; color: #6b7280;">Run ID</td><td style="padding: 6px;">%s</td></tr>
            <tr><td style="padding: 6px; color: #6b7280;">目标列</td><td style="padding: 6px;">%s</td></tr>
            <tr><td style="padding: 6px; color: #6b7280;">状态</td><td style="padding: 6px;"><b>%s</b></td></tr>
            <tr><td style="padding: 6px; color: #6b7280;">说明</td><td style="padding: 6px;">%s</td></tr>
        </table>
        <p>可在平台上查看指标与产物。</p>
        <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
        <p style="color: #6b7280; font-size: 12px;">此邮件由系统自动发送，请勿回复。</p>
    </div>
</body>
</html>
`, runID, taskTarget, status, message)

	return s.sendHTML(to, subject, body)
}

// sendHTML 发送 HTML 邮件
func (s *Service) sendHTML(to, subject, body string) error {
	headers := make(map[string]string)
	headers["From"] = s.cfg.From
	headers["To"] = to
	headers["Subject"] = subject
	headers["MIME-Version"] = "1.0"
	headers["Content-Type"] = "text/html; charset=UTF-8"

	var msg strings.Builder
	for k, v := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg.String()))
}
