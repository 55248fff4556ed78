package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
)

var (
	ErrEmailNotConfigured = errors.New("email service not configured")
	ErrSendFailed         = errors.New("failed to send email")
	ErrInvalidMessage     = errors.New("email and message are required")
)

const (
	defaultResendURL = "https://api.resend.com/emails"
	ContactSubject   = "New BabyGPT Contact Form Submission"
)

// ResendClient Resend 邮件服务客户端
type ResendClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewResendClient(apiKey string) *ResendClient {
	return &ResendClient{
		apiKey:     apiKey,
		endpoint:   defaultResendURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithEndpoint 替换 API 地址，测试中指向 httptest server
func (c *ResendClient) WithEndpoint(endpoint string) *ResendClient {
	c.endpoint = endpoint
	return c
}

func (c *ResendClient) IsConfigured() bool {
	return c.apiKey != ""
}

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type Message struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	HTML    string
}

func (c *ResendClient) Send(ctx context.Context, msg Message) error {
	if !c.IsConfigured() || msg.From == "" {
		return ErrEmailNotConfigured
	}

	jsonData, err := json.Marshal(sendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: status code %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}

// ContactMessage 联系表单提交内容
type ContactMessage struct {
	Email   string
	Message string
	To      string
}

// SendContactMessage 把联系表单转发给运营邮箱，回复地址设为提交者
func (c *ResendClient) SendContactMessage(ctx context.Context, from string, msg ContactMessage) error {
	if strings.TrimSpace(msg.Email) == "" || strings.TrimSpace(msg.Message) == "" || msg.To == "" {
		return ErrInvalidMessage
	}
	body := fmt.Sprintf(`<h2>%s</h2>
<p><strong>From:</strong> %s</p>
<p><strong>Message:</strong></p>
<p>%s</p>`,
		ContactSubject,
		html.EscapeString(msg.Email),
		strings.ReplaceAll(html.EscapeString(msg.Message), "\n", "<br>"),
	)
	return c.Send(ctx, Message{
		From:    from,
		To:      msg.To,
		ReplyTo: msg.Email,
		Subject: ContactSubject,
		HTML:    body,
	})
}
