// Package telemetry wraps the statsd methods worldlife emits. It hides the
// datadog dependency so a future migration to another statsd client only
// needs to touch this file.
package telemetry

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{}

func Client() ddstatsd.ClientInterface {
	return client
}

// Init points the package at a real statsd sink. Leaving the address empty is
// a configuration choice, not an error; callers should simply skip Init.
func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("statsd address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics.
		ddstatsd.WithNamespace("worldlife"),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}
	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrap(err, "failed to create statsd client")
	}
	client = newClient
	return nil
}

// EmitTickStat emits the elapsed time since start for one stage of the
// simulation tick.
func EmitTickStat(start time.Time, stage string) {
	duration := time.Since(start)
	if err := Client().Timing("tick", duration, []string{stage}, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit tick stat: %v", err)
	}
}

// EmitClaim counts one ownership claim outcome (claimed, reclaimed,
// already_owned).
func EmitClaim(result string) {
	if err := Client().Count("ownership.claim", 1, []string{"result:" + result}, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit claim stat: %v", err)
	}
}

// EmitPathwayDrop counts pathways dropped because the outbound buffer was
// full.
func EmitPathwayDrop(n int) {
	if err := Client().Count("pathway.dropped", int64(n), nil, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit pathway drop stat: %v", err)
	}
}

// EmitGauge reports a point-in-time value such as active chunk or owned
// entity counts.
func EmitGauge(name string, value float64) {
	if err := Client().Gauge(name, value, nil, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit gauge %s: %v", name, err)
	}
}

func Close() error {
	return eris.Wrap(client.Close(), "")
}
