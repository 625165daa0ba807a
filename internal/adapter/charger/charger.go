package charger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/berfenger/hems2mqtt/internal/config"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// Publisher sends a raw MQTT message.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload string, retain bool) error
}

// MQTTCharger drives a wallbox through plain command topics. The charger reports its state back
// through the regular point topics, writes are mirrored into the store right away.
type MQTTCharger struct {
	cfg       config.ChargerConfig
	publisher Publisher
	store     port.StateStore
	logger    *zap.Logger
}

type phasesPayload struct {
	Phases  int `json:"phases"`
	Current int `json:"current"`
}

func NewMQTTCharger(cfg config.ChargerConfig, publisher Publisher, store port.StateStore, logger *zap.Logger) *MQTTCharger {
	return &MQTTCharger{
		cfg:       cfg,
		publisher: publisher,
		store:     store,
		logger:    logger.With(zap.String("adapter", "charger")),
	}
}

func (c *MQTTCharger) State() port.ChargerState {
	return port.ChargerState{
		SwitchOn:    domain.ChargerSwitch.Read(c.store).OrElse(false),
		Current:     int(domain.ChargerCurrent.Read(c.store).OrElse(0)),
		Phases:      int(domain.ChargerPhases.Read(c.store).OrElse(0)),
		ForceCharge: domain.ChargerForceCharge.Read(c.store).OrElse(false),
	}
}

func (c *MQTTCharger) SetSwitch(ctx context.Context, on bool) error {
	payload := "off"
	if on {
		payload = "on"
	}
	c.logger.Info("charger: switch", zap.String("payload", payload))
	if err := c.publisher.Publish(ctx, c.cfg.SwitchTopic, payload, false); err != nil {
		return fmt.Errorf("charger switch: %w", err)
	}
	c.store.Set(domain.POINT_CHARGER_SWITCH, payload)
	return nil
}

func (c *MQTTCharger) SetCurrent(ctx context.Context, amps int) error {
	c.logger.Info("charger: current", zap.Int("amps", amps))
	if err := c.publisher.Publish(ctx, c.cfg.CurrentTopic, strconv.Itoa(amps), false); err != nil {
		return fmt.Errorf("charger current: %w", err)
	}
	c.store.Set(domain.POINT_CHARGER_CURRENT, strconv.Itoa(amps))
	return nil
}

func (c *MQTTCharger) SetPhases(ctx context.Context, phases int, amps int) error {
	payload, err := json.Marshal(phasesPayload{Phases: phases, Current: amps})
	if err != nil {
		return err
	}
	c.logger.Info("charger: phases", zap.Int("phases", phases), zap.Int("amps", amps))
	if err := c.publisher.Publish(ctx, c.cfg.PhasesTopic, string(payload), false); err != nil {
		return fmt.Errorf("charger phases: %w", err)
	}
	c.store.Set(domain.POINT_CHARGER_PHASES, strconv.Itoa(phases))
	c.store.Set(domain.POINT_CHARGER_CURRENT, strconv.Itoa(amps))
	return nil
}

// ActorPublisher publishes through the mqtt actor and waits for its acknowledgement.
type ActorPublisher struct {
	root    *actor.RootContext
	pid     *actor.PID
	timeout time.Duration
}

func NewActorPublisher(root *actor.RootContext, pid *actor.PID, timeout time.Duration) *ActorPublisher {
	return &ActorPublisher{root: root, pid: pid, timeout: timeout}
}

func (p *ActorPublisher) Publish(ctx context.Context, topic string, payload string, retain bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := p.root.RequestFuture(p.pid, domain.PublishMessageRequest{
		Topic:   topic,
		Payload: payload,
		Retain:  retain,
	}, p.timeout).Result()
	if err != nil {
		return err
	}
	if resp, ok := res.(domain.PublishMessageResponse); ok && resp.HasResponseError() {
		return resp.GetResponseError()
	}
	return nil
}

// ensure interface compliance
var _ port.ChargerHardware = (*MQTTCharger)(nil)
var _ Publisher = (*ActorPublisher)(nil)
