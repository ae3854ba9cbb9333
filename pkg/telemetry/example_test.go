package telemetry_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/pdreach/pkg/telemetry"
)

// Example_events subscribes to query events with synchronous delivery.
func Example_events() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Query, e.Data["verdict"])
	}, telemetry.FilterByType(telemetry.EventTypeQueryCompleted))

	_ = tel.Events.PublishBatchStarted("run-1", "calls", 1)
	_ = tel.Events.PublishQueryCompleted("run-1", "fwd", "reachable", 0)
	// Output:
	// query.completed fwd reachable
}
