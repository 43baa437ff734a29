package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
)

func TestProgressBrokerDeliversToJobSubscribers(t *testing.T) {
	broker := NewProgressBroker()
	events, cancel := broker.Subscribe("job-1")
	other, cancelOther := broker.Subscribe("job-2")
	defer cancelOther()

	broker.Publish(dto.ReportProgressEvent{JobID: "job-1", Status: models.ReportStatusProcessing, Progress: 10})
	assert.Equal(t, 10, (<-events).Progress)
	assert.Empty(t, other)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, 0, broker.Subscribers("job-1"))
	assert.Equal(t, 1, broker.Subscribers("job-2"))
}

func TestProgressBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
	broker := NewProgressBroker()
	events, cancel := broker.Subscribe("job-1")
	defer cancel()

	for i := 0; i < progressBuffer+5; i++ {
		broker.Publish(dto.ReportProgressEvent{JobID: "job-1", Progress: i})
	}
	assert.Len(t, events, progressBuffer)

	var nilBroker *ProgressBroker
	assert.NotPanics(t, func() { nilBroker.Publish(dto.ReportProgressEvent{JobID: "x"}) })
}
