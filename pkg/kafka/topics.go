package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/vehicle-sales/pkg/logger"
)

// TopicConfig описывает параметры создаваемого топика.
type TopicConfig struct {
	NumPartitions     int
	ReplicationFactor int
}

// DefaultTopicConfig - конфигурация топиков по умолчанию.
// Три партиции дают параллелизм, сохраняя порядок внутри одной саги
// (ключ сообщения - transaction_id).
func DefaultTopicConfig() TopicConfig {
	return TopicConfig{
		NumPartitions:     3,
		ReplicationFactor: 1,
	}
}

// EnsureTopics создаёт топики, если они ещё не существуют.
// Вызывается при старте каждого сервиса: сервисы могут подниматься
// в произвольном порядке, и подписчик не должен падать из-за
// отсутствующего топика.
func EnsureTopics(ctx context.Context, brokers []string, topics []string, cfg TopicConfig) error {
	if len(brokers) == 0 {
		return fmt.Errorf("не указаны брокеры Kafka")
	}
	if len(topics) == 0 {
		return nil
	}

	conn, err := dialController(ctx, brokers)
	if err != nil {
		return fmt.Errorf("ошибка подключения к контроллеру Kafka: %w", err)
	}
	defer conn.Close()

	topicConfigs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		topicConfigs = append(topicConfigs, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     cfg.NumPartitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
	}

	if err := conn.CreateTopics(topicConfigs...); err != nil {
		// Существующие топики не считаем ошибкой.
		if !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("ошибка создания топиков: %w", err)
		}
	}

	logger.Info().
		Int("topics", len(topics)).
		Int("partitions", cfg.NumPartitions).
		Msg("Топики Kafka проверены и созданы")

	return nil
}

// dialController подключается к controller-брокеру кластера.
// Создание топиков разрешено только через контроллер.
func dialController(ctx context.Context, brokers []string) (*kafka.Conn, error) {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, err
	}

	controller, err := conn.Controller()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.Close()
	return controllerConn, nil
}
