package actor

import (
	"strconv"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"

	"github.com/asynkron/protoactor-go/eventstream"
)

// sensorPublisher publishes sensor updates on the event stream and mirrors the values into the
// store, so that the other loops read them back as inputs. Own outputs never expire in the store,
// a failed cycle keeps the previous value.
type sensorPublisher struct {
	eventStream *eventstream.EventStream
	store       port.StateStore
}

func newSensorPublisher(eventStream *eventstream.EventStream, store port.StateStore) sensorPublisher {
	return sensorPublisher{eventStream: eventStream, store: store}
}

func (p sensorPublisher) publish(event any) {
	if p.eventStream != nil {
		p.eventStream.Publish(event)
	}
}

func (p sensorPublisher) set(id string, value string) {
	p.store.SetWithTTL(id, value, 0)
}

func (p sensorPublisher) Float(id string, value float64, decimals uint) {
	p.set(id, strconv.FormatFloat(value, 'f', int(decimals), 64))
	p.publish(domain.FloatEvent(id, value, decimals))
}

func (p sensorPublisher) Binary(id string, value bool) {
	p.set(id, onOff(value))
	p.publish(domain.BinaryEvent(id, value))
}

func (p sensorPublisher) Switch(id string, value bool) {
	p.set(id, onOff(value))
	p.publish(domain.SwitchEvent(id, value))
}

func (p sensorPublisher) Number(id string, value float64, decimals uint) {
	p.set(id, strconv.FormatFloat(value, 'f', -1, 64))
	p.publish(domain.NumberEvent(id, value, decimals))
}

func (p sensorPublisher) Text(id string, value string) {
	p.set(id, value)
	p.publish(domain.TextEvent(id, value))
}

func (p sensorPublisher) Timestamp(id string, value time.Time) {
	p.set(id, value.Format(time.RFC3339))
	p.publish(domain.TimestampSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: id},
		Value:                  value,
	})
}

// Attributes are published only, they are not inputs of any loop.
func (p sensorPublisher) Attributes(id string, attributes any) {
	p.publish(domain.AttributesEvent(id, attributes))
}

func onOff(value bool) string {
	if value {
		return "on"
	}
	return "off"
}
