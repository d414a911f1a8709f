package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication between the
// lifecycle engine and its decoupled collaborators (mail dispatch, crawler
// triggers). Supports Go channels (single process) or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topics for the lifecycle event stream. Each transition commits first and
// publishes afterwards; subscribers must tolerate redelivery.
const (
	TopicAvaliacaoRecebida   = "radar.avaliacao.recebida"
	TopicAvaliacaoDevolvida  = "radar.avaliacao.devolvida"
	TopicRecursoRecebido     = "radar.recurso.recebido"
	TopicRecursoExpirado     = "radar.recurso.expirado"
	TopicAvaliacaoFinalizada = "radar.avaliacao.finalizada"
)

// LifecycleEvent is the payload published on every lifecycle topic.
type LifecycleEvent struct {
	AvaliacaoID      int64  `json:"avaliacaoId"`
	SecretariaID     int64  `json:"secretariaId"`
	Status           Status `json:"status"`
	NomeResponsavel  string `json:"nomeResponsavel"`
	EmailResponsavel string `json:"emailResponsavel"`
	PrazoRecurso     string `json:"prazoRecurso,omitempty"`
	PontuacaoFinal   int    `json:"pontuacaoFinal,omitempty"`
	PontuacaoTotal   int    `json:"pontuacaoTotal,omitempty"`
}
