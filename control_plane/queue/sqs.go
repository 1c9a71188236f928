package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SqsQueue is a publisher and long-polling consumer over a single SQS queue.
type SqsQueue struct {
	client *sqs.Client
	url    string
	stop   chan struct{}
}

func NewSqsQueue(client *sqs.Client, url string) *SqsQueue {
	return &SqsQueue{client: client, url: url, stop: make(chan struct{})}
}

func (q *SqsQueue) Publish(payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("error encoding queue message", "error", err)
		return err
	}

	_, err = q.client.SendMessage(context.Background(), &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		slog.Error("error publishing queue message", "error", err)
		return err
	}

	return nil
}

func (q *SqsQueue) Run(handler Handler) {
	slog.Info("starting queue consumer", "queue", q.url)
	ctx := context.Background()

	for {
		select {
		case <-q.stop:
			slog.Info("stopping queue consumer", "queue", q.url)
			return
		default:
			out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            aws.String(q.url),
				MaxNumberOfMessages: 1,
				WaitTimeSeconds:     20,
				VisibilityTimeout:   60,
			})
			if err != nil {
				slog.Error("error receiving from queue", "queue", q.url, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for _, m := range out.Messages {
				if err := handler([]byte(aws.ToString(m.Body))); err != nil {
					// Leave the message for redelivery; the handler has
					// already logged the cause.
					slog.Error("queue message rejected", "queue", q.url, "message_id", aws.ToString(m.MessageId), "error", err)
					continue
				}

				_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
					QueueUrl:      aws.String(q.url),
					ReceiptHandle: m.ReceiptHandle,
				})
				if err != nil {
					slog.Error("error deleting queue message", "queue", q.url, "message_id", aws.ToString(m.MessageId), "error", err)
				}
			}
		}
	}
}

func (q *SqsQueue) Stop() {
	close(q.stop)
}
