// Package transport carries the two-phase external-call protocol over
// NATS JetStream: outbound transfer requests to the external token
// ledgers, and the transfer outcome replies that resume the engine's
// registered continuations.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SwapLedger/internal/engine"
	"SwapLedger/internal/ledger"
	"SwapLedger/internal/wire"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// StreamName holds both directions of the transfer protocol.
	StreamName = "SWAP_TRANSFERS"

	requestSubjectPrefix = "swap.transfer.request."
	resultSubjectFilter  = "swap.transfer.result.>"
	resultConsumerName   = "swap-ledger-results"
)

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates the transfer stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"swap.transfer.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// Outbox publishes transfer requests to the token ledgers. Requests for
// one token contract share a subject so the token ledger consumes them
// in order.
type Outbox struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewOutbox(js jetstream.JetStream, log zerolog.Logger) *Outbox {
	return &Outbox{js: js, log: log}
}

// PublishTransfer implements engine.Outbox.
func (o *Outbox) PublishTransfer(ctx context.Context, req wire.TransferRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal transfer request: %w", err)
	}

	subject := requestSubjectPrefix + req.TokenAddress
	if _, err := o.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	o.log.Debug().
		Str("subject", subject).
		Str("correlation_id", req.CorrelationID.String()).
		Uint64("amount", req.Amount).
		Msg("transfer request published")
	return nil
}

// ResultSubscriber consumes transfer outcome replies and feeds them to
// the engine. Replies are at-least-once; the engine's continuation
// registry makes redeliveries harmless, so every reply is ACKed after
// handling.
type ResultSubscriber struct {
	js       jetstream.JetStream
	eng      *engine.Engine
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewResultSubscriber(js jetstream.JetStream, eng *engine.Engine, log zerolog.Logger) *ResultSubscriber {
	return &ResultSubscriber{js: js, eng: eng, log: log}
}

// Subscribe creates the durable consumer and starts handling replies.
func (rs *ResultSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := rs.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       resultConsumerName,
		FilterSubject: resultSubjectFilter,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", resultConsumerName, err)
	}

	consumeContext, err := consumer.Consume(func(msg jetstream.Msg) {
		rs.handle(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", resultConsumerName, err)
	}

	rs.consumer = consumeContext
	rs.log.Info().Str("subject", resultSubjectFilter).Msg("subscribed to transfer results")
	return nil
}

func (rs *ResultSubscriber) handle(msg jetstream.Msg) {
	var result wire.TransferResult
	if err := json.Unmarshal(msg.Data(), &result); err != nil {
		// Malformed replies can never succeed on redelivery.
		rs.log.Error().Err(err).Str("subject", msg.Subject()).Msg("malformed transfer result")
		msg.Term()
		return
	}

	err := rs.eng.HandleTransferResult(result)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrUnknownCorrelation):
		// Redelivered or foreign reply; already accounted for.
		rs.log.Debug().
			Str("correlation_id", result.CorrelationID.String()).
			Msg("transfer result with no pending continuation")
	case errors.Is(err, ledger.ErrExternalCallFailed):
		rs.log.Warn().
			Str("correlation_id", result.CorrelationID.String()).
			Str("reason", result.Reason).
			Msg("external transfer reported failure")
	default:
		rs.log.Error().Err(err).
			Str("correlation_id", result.CorrelationID.String()).
			Msg("transfer callback aborted")
	}

	// The continuation is consumed either way; redelivery cannot help.
	msg.Ack()
}

// Stop gracefully stops the consumer.
func (rs *ResultSubscriber) Stop() {
	if rs.consumer != nil {
		rs.consumer.Stop()
	}
}
