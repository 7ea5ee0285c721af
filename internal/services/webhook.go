package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"grcflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"
)

// WebhookSender posts workflow payloads to external endpoints.
type WebhookSender interface {
	Send(ctx context.Context, url, method string, headers map[string]string, payload map[string]interface{}) (string, error)
}

// HTTPWebhookSender records a delivery row, then fires the request on
// a background goroutine so the engine never blocks on the remote end.
type HTTPWebhookSender struct {
	db     *gorm.DB
	logger *logrus.Logger
	client *http.Client
}

func NewHTTPWebhookSender(db *gorm.DB, logger *logrus.Logger, timeout time.Duration) *HTTPWebhookSender {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPWebhookSender{
		db:     db,
		logger: logger,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Send enqueues the delivery and returns its id immediately.
func (w *HTTPWebhookSender) Send(ctx context.Context, url, method string, headers map[string]string, payload map[string]interface{}) (string, error) {
	if method == "" {
		method = http.MethodPost
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	headerJSON, _ := json.Marshal(headers)

	delivery := &models.WebhookDelivery{
		DeliveryID: uuid.NewString(),
		URL:        url,
		Method:     method,
		Headers:    string(headerJSON),
		Payload:    string(body),
		CreatedAt:  time.Now(),
	}
	if err := w.db.WithContext(ctx).Create(delivery).Error; err != nil {
		return "", err
	}

	go w.deliver(delivery.ID, url, method, headers, body)
	return delivery.DeliveryID, nil
}

func (w *HTTPWebhookSender) deliver(rowID uint, url, method string, headers map[string]string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		w.finish(rowID, 0, false, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.finish(rowID, 0, false, err.Error())
		return
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = resp.Status
	}
	w.finish(rowID, resp.StatusCode, success, errMsg)
}

func (w *HTTPWebhookSender) finish(rowID uint, statusCode int, success bool, errMsg string) {
	err := w.db.Model(&models.WebhookDelivery{}).
		Where("id = ?", rowID).
		Updates(map[string]interface{}{
			"status_code": statusCode,
			"success":     success,
			"error":       errMsg,
		}).Error
	if err != nil {
		w.logger.Warnf("webhook: record delivery result failed: %v", err)
	}
}
