package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

type cloudwatchLogsAPI interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// LogShipper buffers log lines and ships them to a CloudWatch Logs stream.
// It is an io.Writer with a Sync method so zap can use it as a sink.
type LogShipper struct {
	client        cloudwatchLogsAPI
	logGroupName  string
	logStreamName string
	batchSize     int

	mu      sync.Mutex
	pending []types.InputLogEvent
}

// NewLogShipper creates the log group (if missing) and a fresh stream for
// this process.
func NewLogShipper(ctx context.Context, cfg sdkaws.Config, logGroupName, serviceName string) (*LogShipper, error) {
	return newLogShipper(ctx, cloudwatchlogs.NewFromConfig(cfg), logGroupName, serviceName)
}

func newLogShipper(ctx context.Context, client cloudwatchLogsAPI, logGroupName, serviceName string) (*LogShipper, error) {
	if logGroupName == "" {
		logGroupName = "/checkout/" + serviceName
	}
	s := &LogShipper{
		client:        client,
		logGroupName:  logGroupName,
		logStreamName: fmt.Sprintf("%s-%d", serviceName, time.Now().Unix()),
		batchSize:     50,
	}

	_, err := client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: sdkaws.String(logGroupName)})
	var exists *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return nil, fmt.Errorf("failed to create log group: %w", err)
	}

	if _, err := client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  sdkaws.String(logGroupName),
		LogStreamName: sdkaws.String(s.logStreamName),
	}); err != nil {
		return nil, fmt.Errorf("failed to create log stream: %w", err)
	}
	return s, nil
}

// Write queues one log line; a full batch is shipped immediately.
func (s *LogShipper) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg == "" {
		return len(p), nil
	}

	s.mu.Lock()
	s.pending = append(s.pending, types.InputLogEvent{
		Message:   sdkaws.String(msg),
		Timestamp: sdkaws.Int64(time.Now().UnixMilli()),
	})
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full {
		if err := s.Sync(); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Sync ships every queued line.
func (s *LogShipper) Sync() error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  sdkaws.String(s.logGroupName),
		LogStreamName: sdkaws.String(s.logStreamName),
		LogEvents:     batch,
	})
	if err != nil {
		return fmt.Errorf("failed to put log events: %w", err)
	}
	return nil
}
