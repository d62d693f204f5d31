package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/DispatchBox/internal/services/payroll"
)

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// runPayrollLoop keeps the consumer alive until shutdown. Consume returns on
// storage errors so the offset of the failed message is not committed; after a
// short pause the group rejoins and delivery retries.
func runPayrollLoop(ctx context.Context, consumer kafkaConsumer, rec *payroll.Recorder, topic, group string) error {
	slog.Info("payroll consumer started", "topic", topic, "group", group)

	for {
		err := consumer.Consume(ctx, func(_key, value []byte) error {
			return rec.Handle(ctx, value)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("payroll consume", "error", err.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
}
