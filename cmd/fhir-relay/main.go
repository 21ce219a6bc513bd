// Package main provides the FHIR relay service: it consumes bundle events
// and delivers them to a downstream FHIR server.
package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/internal/infrastructure/kafka"
	"github.com/mjv57/medical-doc-processor/pkg/circuitbreaker"
	"github.com/mjv57/medical-doc-processor/pkg/workerpool"
)

// Config holds relay configuration
type Config struct {
	KafkaBrokers []string
	GroupID      string
	TargetURL    string
	Workers      int
}

func main() {
	godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := loadConfig()
	if cfg.TargetURL == "" {
		logger.Fatal("FHIR_TARGET_URL is required")
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("fhir-delivery"), logger)
	if err != nil {
		logger.Fatal("circuit breaker setup failed", zap.Error(err))
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	rc.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	client := rc.StandardClient()

	deliver := func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		payload := task.Payload.([]byte)
		_, err := breaker.Execute(ctx, func() (any, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TargetURL, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/fhir+json")

			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, fmt.Errorf("target returned status %d", resp.StatusCode)
			}
			return nil, nil
		})
		if err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
		}
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers
	pool, err := workerpool.New(poolCfg, deliver, logger)
	if err != nil {
		logger.Fatal("worker pool setup failed", zap.Error(err))
	}
	pool.Start()

	// Drain results so delivery failures are visible in the logs
	go func() {
		for result := range pool.Results() {
			if result.Success {
				logger.Info("bundle delivered", zap.String("document_id", result.TaskID))
			}
		}
	}()

	consumerCfg := kafka.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = cfg.GroupID
	consumerCfg.Topics = []string{kafka.TopicBundleBuilt}

	consumer, err := kafka.NewConsumer(consumerCfg, func(ctx context.Context, msg *kafka.ConsumedMessage) error {
		value := make([]byte, len(msg.Value))
		copy(value, msg.Value)
		return pool.Submit(&workerpool.Task{
			ID:      string(msg.Key),
			Payload: value,
			Context: ctx,
		})
	}, nil, logger)
	if err != nil {
		logger.Fatal("consumer setup failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("fhir relay started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("target", cfg.TargetURL),
		zap.Int("workers", cfg.Workers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down relay")
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	pool.Stop()
	logger.Info("relay stopped")
}

func loadConfig() Config {
	brokers := []string{"localhost:9092"}
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	groupID := os.Getenv("RELAY_GROUP_ID")
	if groupID == "" {
		groupID = "fhir-relay"
	}

	workers := 4
	if raw := os.Getenv("RELAY_WORKERS"); raw != "" {
		fmt.Sscanf(raw, "%d", &workers)
	}

	return Config{
		KafkaBrokers: brokers,
		GroupID:      groupID,
		TargetURL:    os.Getenv("FHIR_TARGET_URL"),
		Workers:      workers,
	}
}
