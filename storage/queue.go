package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/Abhiram-108/minitrello/domain"
)

// QueueExporter publishes stored activities to an Azure Storage queue for
// notification and digest workers.
type QueueExporter struct {
	queue *azqueue.QueueClient
}

// QueueClientOptions are the retry settings for the activity queue.
func QueueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

func NewQueueExporter(connStr, queueName string) (*QueueExporter, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, QueueClientOptions())
	if err != nil {
		return nil, err
	}
	return &QueueExporter{queue: q}, nil
}

// ActivityMessage is the queue message body.
type ActivityMessage struct {
	Version  int             `json:"version"`
	Activity domain.Activity `json:"activity"`
}

func (e *QueueExporter) Export(ctx context.Context, a domain.Activity) error {
	data, err := sonic.Marshal(ActivityMessage{Version: 1, Activity: a})
	if err != nil {
		return err
	}
	_, err = e.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}
