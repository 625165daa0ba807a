package actor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/hems2mqtt/internal/config"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/berfenger/hems2mqtt/internal/mqtt"
	"github.com/berfenger/hems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	store          port.StateStore
	pointTopics    map[string]string
	logger         *zap.Logger

	// test actor only
	mu        sync.Mutex
	published []RawMessage
}

type OnEventStreamMessage struct {
	message any
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTStateSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	ReplyTo *actor.PID
	Error   error
}

type ParsedCommand struct {
	Command *mqtt.ParsedMQTTCommand
}

type RawMessage struct {
	Topic   string
	Message string
	Retain  bool
}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, store port.StateStore, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		store:       store,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")
		self := ctx.Self()
		root := ctx.ActorSystem().Root

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			root.Send(self, MQTTConnectionLost{Error: err})
		})
		state.pointTopics = state.client.PointTopics(domain.InputPoints)

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")
		self := ctx.Self()
		root := ctx.ActorSystem().Root

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		state.subscribeEventStream(ctx)

		// subscribe to MQTT command topic
		state.client.SubscribeToCommandTopic(func(c pahomqtt.Client, m pahomqtt.Message) {
			cmd, err := state.client.ParseMQTTCommand(m)
			if err == nil && cmd != nil {
				root.Send(self, ParsedCommand{Command: cmd})
			}
		}, func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		state.logger.Debug("mqtt@starting subscribed to commands")
		self := ctx.Self()
		root := ctx.ActorSystem().Root

		// input points and the retained state of our own settings go straight into the store
		topics := append(state.client.SettingStateTopics(), mapKeys(state.pointTopics)...)
		state.client.SubscribeMultiple(topics, 0, func(c pahomqtt.Client, m pahomqtt.Message) {
			state.storeMessage(m.Topic(), string(m.Payload()))
		}, func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTStateSubscribed{})
			}
		}, 2*time.Second)
	case MQTTStateSubscribed:
		// init completed, transition to default state
		state.logger.Info("mqtt@starting subscribed", zap.Int("points", len(state.pointTopics)))
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case ParsedCommand:
		// route command to parent
		state.logger.Debug("mqtt@default parsedCommand", zap.Any("command", msg.Command))
		ctx.Send(ctx.Parent(), msg)
	case OnEventStreamMessage:
		if raw := state.event2MQTTMessage(msg.message); raw != nil {
			state.publishRaw(*raw)
		}
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.String("topic", msg.Topic))
		state.publishMessage(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishSensorUpdateRequest:
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", zap.String("type", fmt.Sprintf("%T", msg.Event)))
		state.publishSensorValue(ctx, msg.Event, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishHADiscovery")
		err := state.PublishHomeAssistantDiscovery(msg.Sensors, msg.Switches, msg.InputNumbers)
		if err != nil {
			state.logger.Error("mqtt@default PublishHADiscovery error", zap.Error(err))
		}
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) subscribeEventStream(ctx actor.Context) {
	if state.eventStream == nil {
		return
	}
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
	}
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.eventStreamSub = state.eventStream.SubscribeWithPredicate(func(value any) {
		root.Send(self, OnEventStreamMessage{message: value})
	}, func(value any) bool {
		switch value.(type) {
		case domain.SensorUpdateEvent, domain.CommandEvent:
			return true
		}
		return false
	})
}

// storeMessage keeps an incoming point or setting value. Setting states never expire, points expire
// after the configured max age.
func (state *MQTTActor) storeMessage(topic string, payload string) {
	if state.store == nil {
		return
	}
	if id, ok := state.client.ParseSettingState(topic); ok {
		state.store.SetWithTTL(id, payload, 0)
		return
	}
	if id, ok := state.pointTopics[topic]; ok {
		state.store.Set(id, payload)
	}
}

func (state *MQTTActor) event2MQTTMessage(event any) *RawMessage {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &RawMessage{
			Topic:   state.client.SensorStateTopic(msg.Id),
			Message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
		}
	case domain.BinarySensorUpdateEvent:
		return &RawMessage{
			Topic:   state.client.BinarySensorStateTopic(msg.Id),
			Message: bool2MQTTPayload(msg.Value),
		}
	case domain.SwitchSensorUpdateEvent:
		return &RawMessage{
			Topic:   state.client.SwitchStateTopic(msg.Id),
			Message: bool2MQTTPayload(msg.Value),
			Retain:  true,
		}
	case domain.InputNumberSensorUpdateEvent:
		return &RawMessage{
			Topic:   state.client.InputNumberStateTopic(msg.Id),
			Message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
			Retain:  true,
		}
	case domain.TextSensorUpdateEvent:
		return &RawMessage{
			Topic:   state.client.SensorStateTopic(msg.Id),
			Message: msg.Value,
		}
	case domain.TimestampSensorUpdateEvent:
		return &RawMessage{
			Topic:   state.client.SensorStateTopic(msg.Id),
			Message: msg.Value.Format(time.RFC3339),
		}
	case domain.AttributesUpdateEvent:
		payload, err := json.Marshal(msg.Attributes)
		if err != nil {
			state.logger.Error("mqtt@default attributes not serializable", zap.String("sensor", msg.Id), zap.Error(err))
			return nil
		}
		return &RawMessage{
			Topic:   state.client.SensorAttributesTopic(msg.Id),
			Message: string(payload),
		}
	case domain.BridgeStateUpdateEvent:
		stringMessage := mqtt.MQTT_PAYLOAD_OFFLINE
		if msg.Value {
			stringMessage = mqtt.MQTT_PAYLOAD_ONLINE
		}
		return &RawMessage{
			Topic:   state.client.BridgeStateTopic(),
			Message: stringMessage,
		}
	case domain.CommandEvent:
		return &RawMessage{
			Topic:   msg.Topic,
			Message: msg.Payload,
			Retain:  msg.Retain,
		}
	default:
		return nil
	}
}

// publishRaw publishes without waiting for the broker, failures are logged only.
func (state *MQTTActor) publishRaw(msg RawMessage) {
	state.logger.Sugar().Debugf("mqtt@publish: %s => %s", msg.Topic, msg.Message)
	logger := state.logger
	state.client.Publish(msg.Topic, msg.Message, 0, msg.Retain, func(err error) {
		if err != nil {
			logger.Warn("mqtt@publish: could not publish", zap.String("topic", msg.Topic), zap.Error(err))
		}
	}, 5*time.Second)
}

func (state *MQTTActor) publishSensorValue(ctx actor.Context, event domain.SensorUpdateEvent, retain bool, replyTo *actor.PID) {
	msg := state.event2MQTTMessage(event)
	if msg == nil {
		if replyTo != nil {
			ctx.Send(replyTo, domain.PublishSensorUpdateResponse{})
		}
		return
	}
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.client.Publish(msg.Topic, msg.Message, 1, msg.Retain || retain, func(err error) {
		root.Send(self, publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.EventPublishResultReceive)
}

func (state *MQTTActor) publishMessage(ctx actor.Context, topic, payload string, retain bool, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish: message publish %s => %s", topic, payload)
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		root.Send(self, publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.MessagePublishResultReceive)
}

func (state *MQTTActor) MessagePublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishMessageResponse{
				ActorResponseMixIn: domain.ErrorResponse(msg.Error),
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) EventPublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a sensor update", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishSensorUpdateResponse{
				ActorResponseMixIn: domain.ErrorResponse(msg.Error),
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(sensors []domain.GenericSensor,
	switches []domain.GenericSwitch, inputNumbers []domain.GenericInputNumber) error {
	prefix := state.client.DiscoveryPrefix()
	for i := range sensors {
		payload, err := json.Marshal(mqtt.GenericSensorToHADiscoveryMessage(state.client, sensors[i]))
		if err != nil {
			return err
		}
		state.client.Publish(mqtt.HADiscoverySensorTopic(prefix, sensors[i]), payload, 0, true, func(error) {}, 1*time.Second)
	}
	for i := range switches {
		payload, err := json.Marshal(mqtt.GenericSwitchToHADiscoveryMessage(state.client, switches[i]))
		if err != nil {
			return err
		}
		state.client.Publish(mqtt.HADiscoverySwitchTopic(prefix, switches[i]), payload, 0, true, func(error) {}, 1*time.Second)
	}
	for i := range inputNumbers {
		payload, err := json.Marshal(mqtt.GenericInputNumberToHADiscoveryMessage(state.client, inputNumbers[i]))
		if err != nil {
			return err
		}
		state.client.Publish(mqtt.HADiscoveryInputNumberTopic(prefix, inputNumbers[i]), payload, 0, true, func(error) {}, 1*time.Second)
	}
	return nil
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.eventStream != nil && state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client != nil {
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	}
	return mqtt.MQTT_PAYLOAD_OFF
}

func mapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Dummy actor, records what it would publish instead of talking to a broker.
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, store port.StateStore, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		store:       store,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.NewMQTTClient(state.config, nil)
		state.pointTopics = state.client.PointTopics(domain.InputPoints)
		state.subscribeEventStream(ctx)
	case *actor.Stopping:
		if state.eventStream != nil && state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case OnEventStreamMessage:
		if raw := state.event2MQTTMessage(msg.message); raw != nil {
			state.record(*raw)
		}
	case RawMessage:
		// simulates an incoming message
		state.storeMessage(msg.Topic, msg.Message)
	case ParsedCommand:
		ctx.Send(ctx.Parent(), msg)
	case domain.PublishSensorUpdateRequest:
		if raw := state.event2MQTTMessage(msg.Event); raw != nil {
			state.record(*raw)
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishSensorUpdateResponse{})
	case domain.PublishMessageRequest:
		state.record(RawMessage{Topic: msg.Topic, Message: msg.Payload, Retain: msg.Retain})
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishMessageResponse{})
	case domain.PublishDiscoveryRequest:
		prefix := state.client.DiscoveryPrefix()
		for _, s := range msg.Sensors {
			state.record(RawMessage{Topic: mqtt.HADiscoverySensorTopic(prefix, s), Retain: true})
		}
		for _, s := range msg.Switches {
			state.record(RawMessage{Topic: mqtt.HADiscoverySwitchTopic(prefix, s), Retain: true})
		}
		for _, n := range msg.InputNumbers {
			state.record(RawMessage{Topic: mqtt.HADiscoveryInputNumberTopic(prefix, n), Retain: true})
		}
	}
}

func (state *MQTTActor) record(msg RawMessage) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.published = append(state.published, msg)
}

// Published returns the messages recorded by the test actor.
func (state *MQTTActor) Published() []RawMessage {
	state.mu.Lock()
	defer state.mu.Unlock()
	return append([]RawMessage(nil), state.published...)
}
