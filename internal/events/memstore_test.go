package events_test

import (
	"testing"

	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/events/eventstest"
)

func TestMemStore(t *testing.T) {
	eventstest.RunStoreTests(t, func() events.Store { return events.NewMemStore() })
}
