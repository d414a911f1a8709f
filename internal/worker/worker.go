// Package worker provides the background loops: the appeal-expiry sweeper
// and the mail dispatcher.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/opengov-pe/radar/internal/domain"
	"github.com/opengov-pe/radar/internal/lifecycle"
	"github.com/opengov-pe/radar/internal/notify"
)

// Sweeper periodically expires appeal windows that closed without an appeal.
type Sweeper struct {
	engine   *lifecycle.Engine
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper running at the given interval.
func NewSweeper(engine *lifecycle.Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. One sweep runs immediately so a restart
// never leaves expired windows waiting a full interval.
func (s *Sweeper) Start() {
	go s.loop()
	slog.Info("appeal sweeper started", "interval", s.interval)
}

func (s *Sweeper) loop() {
	defer close(s.done)

	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := s.engine.SweepExpiredAppeals(ctx, time.Now().UTC())
	if err != nil {
		slog.Warn("appeal sweep failed", "error", err)
		return
	}
	if len(expired) > 0 {
		slog.Info("appeal windows expired", "count", len(expired))
	}
}

// Stop shuts the sweeper down and waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// MailDispatcher turns lifecycle events into notification emails. A failed
// send is logged and dropped; the lifecycle transition already committed.
type MailDispatcher struct {
	bus    domain.EventBus
	mailer domain.Mailer

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewMailDispatcher creates a dispatcher over the given bus and mailer.
func NewMailDispatcher(bus domain.EventBus, mailer domain.Mailer) *MailDispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &MailDispatcher{
		bus:    bus,
		mailer: mailer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// topicTemplates maps lifecycle topics to mail templates.
var topicTemplates = map[string]string{
	domain.TopicAvaliacaoRecebida:   domain.TemplateAvaliacaoRecebida,
	domain.TopicAvaliacaoDevolvida:  domain.TemplateAvaliacaoDevolvida,
	domain.TopicRecursoRecebido:     domain.TemplateRecursoRecebido,
	domain.TopicRecursoExpirado:     domain.TemplateRecursoExpirado,
	domain.TopicAvaliacaoFinalizada: domain.TemplateAvaliacaoFinalizada,
}

// Start subscribes to every lifecycle topic.
func (d *MailDispatcher) Start() error {
	for topic := range topicTemplates {
		sub, err := d.bus.Subscribe(d.ctx, topic, d.handleEvent)
		if err != nil {
			d.Stop()
			return err
		}
		d.subscriptions = append(d.subscriptions, sub)
	}

	slog.Info("mail dispatcher started", "topics", len(d.subscriptions))
	return nil
}

func (d *MailDispatcher) handleEvent(ctx context.Context, msg *domain.Message) error {
	var event domain.LifecycleEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse lifecycle event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}

	if event.EmailResponsavel == "" {
		slog.Debug("lifecycle event without recipient", "avaliacao_id", event.AvaliacaoID)
		return nil
	}

	template, ok := topicTemplates[msg.Topic]
	if !ok {
		return nil
	}

	email := &domain.Email{
		TemplateKey: template,
		To:          event.EmailResponsavel,
		ToName:      event.NomeResponsavel,
		Subject:     notify.Subject(template),
		Payload: map[string]string{
			"avaliacaoId": strconv.FormatInt(event.AvaliacaoID, 10),
		},
	}
	if event.PrazoRecurso != "" {
		email.Payload["prazoRecurso"] = event.PrazoRecurso
	}
	if template == domain.TemplateAvaliacaoFinalizada {
		email.Payload["pontuacaoFinal"] = strconv.Itoa(event.PontuacaoFinal)
		email.Payload["pontuacaoTotal"] = strconv.Itoa(event.PontuacaoTotal)
	}

	if err := d.mailer.Send(ctx, email); err != nil {
		slog.Warn("failed to send notification email",
			"template", template,
			"avaliacao_id", event.AvaliacaoID,
			"error", err,
		)
	}

	return nil
}

// Stop unsubscribes from all topics.
func (d *MailDispatcher) Stop() {
	d.cancel()
	for _, sub := range d.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	d.subscriptions = nil
}
