package main

import (
	"log"

	"github.com/djlord-it/easy-automation/internal/config"
	"github.com/djlord-it/easy-automation/internal/dispatcher"
)

// logConfigWarnings reports risky but valid configurations at startup.
// P0 can lose or duplicate webhook deliveries, P1 reduces visibility.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("WARNING [P0]: RECONCILE_ENABLED=false; firings recorded but never dispatched (crash, full buffer) will not be retried")
	} else if cfg.ReconcileThreshold <= dispatcher.MaxRetryDuration() {
		log.Printf("WARNING [P0]: RECONCILE_THRESHOLD=%s does not exceed the dispatcher retry window (%s); firings still retrying may be delivered twice",
			cfg.ReconcileThreshold, dispatcher.MaxRetryDuration())
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false; scheduler drift, cascade limits and delivery failures are not observable")
	}

	if !cfg.LeaderElectionEnabled {
		log.Println("INFO: LEADER_ELECTION_ENABLED=false; every instance runs the scheduler, duplicate schedule firings are dropped by idempotency key")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("INFO: CIRCUIT_BREAKER_THRESHOLD=0; failing webhook endpoints are retried without a circuit breaker")
	}
}
