// Package notify publishes ledger events to in-process listeners.
package notify

import (
	evbus "github.com/asaskevich/EventBus"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// TopicHealthDataUpdated fires after a record write is applied to the ledger.
const TopicHealthDataUpdated = "health.data.updated"

// HealthDataUpdated is published once per successful record write. It carries
// no metric values.
type HealthDataUpdated struct {
	Identity  common.Address `json:"identity"`
	UpdatedAt uint64         `json:"updatedAt"`
}

// Publisher is what the record store needs to announce writes.
type Publisher interface {
	PublishHealthDataUpdated(ev HealthDataUpdated)
}

// Bus wraps an asaskevich event bus with typed topics.
type Bus struct {
	bus evbus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

func (b *Bus) PublishHealthDataUpdated(ev HealthDataUpdated) {
	b.bus.Publish(TopicHealthDataUpdated, ev)
}

// OnHealthDataUpdated registers fn and returns a function that removes it.
// Handlers run synchronously on the publishing goroutine.
func (b *Bus) OnHealthDataUpdated(fn func(HealthDataUpdated)) (func(), error) {
	if err := b.bus.Subscribe(TopicHealthDataUpdated, fn); err != nil {
		return nil, err
	}
	return func() { _ = b.bus.Unsubscribe(TopicHealthDataUpdated, fn) }, nil
}

// WaitAsync blocks until asynchronous handlers have drained.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}

// LogListener writes every update notification to logger.
func LogListener(logger *zap.Logger) func(HealthDataUpdated) {
	return func(ev HealthDataUpdated) {
		logger.Info("health data updated",
			zap.String("identity", ev.Identity.Hex()),
			zap.Uint64("updated_at", ev.UpdatedAt))
	}
}
