package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSClient wraps AWS SQS functionality across the broker's logical
// queues. Each QueueName resolves to its own queue URL so that, e.g., a
// flood of cleanup tasks can't delay workflow_execution polling.
type SQSClient struct {
	client    *sqs.Client
	queueURLs map[QueueName]string
	dlqURL    string
	logger    *slog.Logger
}

// SQSConfig holds configuration for the SQS client.
type SQSConfig struct {
	QueueURLs       map[QueueName]string
	DLQueueURL      string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // For LocalStack or custom endpoints
}

// NewSQSClient creates a new SQS client.
func NewSQSClient(ctx context.Context, cfg SQSConfig, logger *slog.Logger) (*SQSClient, error) {
	if cfg.QueueURLs[QueueWorkflowExecution] == "" {
		return nil, fmt.Errorf("queue URL for %s is required", QueueWorkflowExecution)
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
		logger.Info("using custom SQS endpoint", "endpoint", cfg.Endpoint)
	}

	client := sqs.NewFromConfig(awsCfg, clientOpts...)

	logger.Info("SQS client initialized",
		"queue_urls", cfg.QueueURLs,
		"dlq_url", cfg.DLQueueURL,
		"region", cfg.Region,
	)

	return &SQSClient{
		client:    client,
		queueURLs: cfg.QueueURLs,
		dlqURL:    cfg.DLQueueURL,
		logger:    logger,
	}, nil
}

func (c *SQSClient) urlFor(queue QueueName) (string, error) {
	url, ok := c.queueURLs[queue]
	if !ok || url == "" {
		return "", fmt.Errorf("no queue URL configured for %s", queue)
	}
	return url, nil
}

// SendMessage sends a message to the named logical queue.
func (c *SQSClient) SendMessage(ctx context.Context, queue QueueName, messageBody string, attributes map[string]string) (*string, error) {
	url, err := c.urlFor(queue)
	if err != nil {
		return nil, err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(messageBody),
	}

	if len(attributes) > 0 {
		msgAttrs := make(map[string]types.MessageAttributeValue)
		for key, value := range attributes {
			msgAttrs[key] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(value),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	result, err := c.client.SendMessage(ctx, input)
	if err != nil {
		c.logger.Error("failed to send message to SQS", "error", err, "queue", queue)
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	c.logger.Debug("message sent to SQS", "message_id", *result.MessageId, "queue", queue)
	return result.MessageId, nil
}

// SendMessageBatch sends multiple messages to the named logical queue in a single request.
func (c *SQSClient) SendMessageBatch(ctx context.Context, queue QueueName, messages []BatchMessage) error {
	if len(messages) == 0 {
		return nil
	}
	if len(messages) > 10 {
		return fmt.Errorf("batch size cannot exceed 10 messages")
	}

	url, err := c.urlFor(queue)
	if err != nil {
		return err
	}

	entries := make([]types.SendMessageBatchRequestEntry, 0, len(messages))
	for i, msg := range messages {
		entry := types.SendMessageBatchRequestEntry{
			Id:          aws.String(fmt.Sprintf("msg-%d", i)),
			MessageBody: aws.String(msg.Body),
		}

		if len(msg.Attributes) > 0 {
			msgAttrs := make(map[string]types.MessageAttributeValue)
			for key, value := range msg.Attributes {
				msgAttrs[key] = types.MessageAttributeValue{
					DataType:    aws.String("String"),
					StringValue: aws.String(value),
				}
			}
			entry.MessageAttributes = msgAttrs
		}

		entries = append(entries, entry)
	}

	result, err := c.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(url),
		Entries:  entries,
	})
	if err != nil {
		c.logger.Error("failed to send batch messages to SQS", "error", err, "queue", queue)
		return fmt.Errorf("failed to send batch messages: %w", err)
	}

	if len(result.Failed) > 0 {
		c.logger.Warn("some messages failed to send", "count", len(result.Failed), "queue", queue)
		for _, failed := range result.Failed {
			c.logger.Error("message send failed", "id", *failed.Id, "code", *failed.Code, "message", *failed.Message)
		}
		return fmt.Errorf("failed to send %d messages", len(result.Failed))
	}

	c.logger.Debug("batch messages sent to SQS", "count", len(result.Successful), "queue", queue)
	return nil
}

// ReceiveMessages receives messages from the named logical queue.
// maxMessages is clamped to 1 to honor the broker's fixed prefetch-1
// contract: a worker holds exactly one in-flight task at a time.
func (c *SQSClient) ReceiveMessages(ctx context.Context, queue QueueName, maxMessages int32, waitTimeSeconds int32) ([]Message, error) {
	url, err := c.urlFor(queue)
	if err != nil {
		return nil, err
	}

	if maxMessages <= 0 || maxMessages > 1 {
		maxMessages = 1
	}
	if waitTimeSeconds < 0 || waitTimeSeconds > 20 {
		waitTimeSeconds = 20 // maximum long polling time
	}

	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(url),
		MaxNumberOfMessages:   maxMessages,
		WaitTimeSeconds:       waitTimeSeconds,
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []types.QueueAttributeName{types.QueueAttributeNameAll},
	})
	if err != nil {
		c.logger.Error("failed to receive messages from SQS", "error", err, "queue", queue)
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, nil
	}

	messages := make([]Message, 0, len(result.Messages))
	for _, msg := range result.Messages {
		attributes := make(map[string]string)
		for key, value := range msg.MessageAttributes {
			if value.StringValue != nil {
				attributes[key] = *value.StringValue
			}
		}

		messages = append(messages, Message{
			ID:                      *msg.MessageId,
			Body:                    *msg.Body,
			ReceiptHandle:           *msg.ReceiptHandle,
			Attributes:              attributes,
			ApproximateReceiveCount: getApproximateReceiveCount(msg.Attributes),
		})
	}

	c.logger.Debug("received messages from SQS", "count", len(messages), "queue", queue)
	return messages, nil
}

// DeleteMessage deletes (acknowledges) a message from the named queue.
func (c *SQSClient) DeleteMessage(ctx context.Context, queue QueueName, receiptHandle string) error {
	url, err := c.urlFor(queue)
	if err != nil {
		return err
	}

	_, err = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		c.logger.Error("failed to delete message from SQS", "error", err, "queue", queue)
		return fmt.Errorf("failed to delete message: %w", err)
	}

	c.logger.Debug("message deleted from SQS", "queue", queue)
	return nil
}

// ChangeMessageVisibility changes the visibility timeout of a message —
// used to implement scheduleRetry's backoff delay without deleting and
// re-enqueuing.
func (c *SQSClient) ChangeMessageVisibility(ctx context.Context, queue QueueName, receiptHandle string, visibilityTimeout int32) error {
	url, err := c.urlFor(queue)
	if err != nil {
		return err
	}

	_, err = c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: visibilityTimeout,
	})
	if err != nil {
		c.logger.Error("failed to change message visibility", "error", err, "queue", queue)
		return fmt.Errorf("failed to change message visibility: %w", err)
	}

	c.logger.Debug("message visibility changed", "timeout", visibilityTimeout, "queue", queue)
	return nil
}

// GetQueueAttributes retrieves queue metrics for the named queue.
func (c *SQSClient) GetQueueAttributes(ctx context.Context, queue QueueName) (*QueueAttributes, error) {
	url, err := c.urlFor(queue)
	if err != nil {
		return nil, err
	}

	result, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(url),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		c.logger.Error("failed to get queue attributes", "error", err, "queue", queue)
		return nil, fmt.Errorf("failed to get queue attributes: %w", err)
	}

	attrs := &QueueAttributes{}
	if val, ok := result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]; ok {
		fmt.Sscanf(val, "%d", &attrs.ApproximateNumberOfMessages)
	}
	if val, ok := result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)]; ok {
		fmt.Sscanf(val, "%d", &attrs.ApproximateNumberOfMessagesNotVisible)
	}
	if val, ok := result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesDelayed)]; ok {
		fmt.Sscanf(val, "%d", &attrs.ApproximateNumberOfMessagesDelayed)
	}

	return attrs, nil
}

// HealthCheck verifies SQS connectivity by fetching the
// workflow_execution queue's attributes.
func (c *SQSClient) HealthCheck(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("SQS client not initialized")
	}
	_, err := c.GetQueueAttributes(ctx, QueueWorkflowExecution)
	return err
}

// GetDLQAttributes retrieves dead-letter queue attributes.
func (c *SQSClient) GetDLQAttributes(ctx context.Context) (*QueueAttributes, error) {
	if c.dlqURL == "" {
		return nil, fmt.Errorf("dead-letter queue URL not configured")
	}

	result, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(c.dlqURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	if err != nil {
		c.logger.Error("failed to get DLQ attributes", "error", err)
		return nil, fmt.Errorf("failed to get DLQ attributes: %w", err)
	}

	attrs := &QueueAttributes{}
	if val, ok := result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]; ok {
		fmt.Sscanf(val, "%d", &attrs.ApproximateNumberOfMessages)
	}

	return attrs, nil
}

// Message represents an SQS message.
type Message struct {
	ID                      string
	Body                    string
	ReceiptHandle           string
	Attributes              map[string]string
	ApproximateReceiveCount int
}

// BatchMessage represents a message for batch sending.
type BatchMessage struct {
	Body       string
	Attributes map[string]string
}

// QueueAttributes represents queue metrics.
type QueueAttributes struct {
	ApproximateNumberOfMessages           int
	ApproximateNumberOfMessagesNotVisible int
	ApproximateNumberOfMessagesDelayed    int
}

func getApproximateReceiveCount(attrs map[string]string) int {
	if val, ok := attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		var count int
		fmt.Sscanf(val, "%d", &count)
		return count
	}
	return 0
}
