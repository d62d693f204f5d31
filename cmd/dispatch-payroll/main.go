package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/DispatchBox/config"
	"github.com/BearBump/DispatchBox/internal/broker/kafka"
	"github.com/BearBump/DispatchBox/internal/services/payroll"
	"github.com/BearBump/DispatchBox/internal/storage/pgticket"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	topic := cfg.Kafka.TicketCompletedTopicName
	if topic == "" {
		topic = "ticket.completed"
	}
	group := cfg.DispatchBox.KafkaConsumerGroup
	if group == "" {
		group = "dispatch-payroll"
	}
	httpAddr := cfg.DispatchBox.PayrollHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8081"
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st, err := pgticket.New(connString)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	rec := payroll.New(st)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, group)
	defer func() { _ = consumer.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		_ = runPayrollHTTPServer(ctx, payrollHTTPOpts{httpAddr: httpAddr, recorder: rec})
	}()

	if err := runPayrollLoop(ctx, consumer, rec, topic, group); err != nil && err != context.Canceled {
		panic(err)
	}
}
