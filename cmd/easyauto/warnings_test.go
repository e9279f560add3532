package main

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/djlord-it/easy-automation/internal/config"
	"github.com/djlord-it/easy-automation/internal/dispatcher"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg *config.Config) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg)
	return buf.String()
}

// quietConfig produces no warnings and no INFO lines.
func quietConfig() *config.Config {
	return &config.Config{
		ReconcileEnabled:        true,
		ReconcileThreshold:      dispatcher.MaxRetryDuration() + time.Minute,
		MetricsEnabled:          true,
		LeaderElectionEnabled:   true,
		CircuitBreakerThreshold: 5,
	}
}

func TestLogConfigWarnings_Quiet(t *testing.T) {
	output := captureLogOutput(quietConfig())

	if strings.Contains(output, "WARNING") {
		t.Error("did not expect any warnings, got:", output)
	}
	if strings.Contains(output, "INFO") {
		t.Error("did not expect any INFO messages, got:", output)
	}
}

func TestLogConfigWarnings_NoReconciler(t *testing.T) {
	cfg := quietConfig()
	cfg.ReconcileEnabled = false
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P0]: RECONCILE_ENABLED=false") {
		t.Error("expected no-reconciler P0 warning, got:", output)
	}
	// The threshold is irrelevant without a reconciler.
	if strings.Contains(output, "RECONCILE_THRESHOLD") {
		t.Error("did not expect threshold warning with reconciler disabled, got:", output)
	}
}

func TestLogConfigWarnings_ThresholdWithinRetryWindow(t *testing.T) {
	cfg := quietConfig()
	cfg.ReconcileThreshold = dispatcher.MaxRetryDuration()
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P0]: RECONCILE_THRESHOLD=") {
		t.Error("expected threshold P0 warning, got:", output)
	}
}

func TestLogConfigWarnings_MetricsDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.MetricsEnabled = false
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: METRICS_ENABLED=false") {
		t.Error("expected metrics P1 warning, got:", output)
	}
	if strings.Contains(output, "WARNING [P0]") {
		t.Error("did not expect any P0 warnings, got:", output)
	}
}

func TestLogConfigWarnings_LeaderElectionDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.LeaderElectionEnabled = false
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: LEADER_ELECTION_ENABLED=false") {
		t.Error("expected leader election INFO, got:", output)
	}
}

func TestLogConfigWarnings_CircuitBreakerDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.CircuitBreakerThreshold = 0
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: CIRCUIT_BREAKER_THRESHOLD=0") {
		t.Error("expected circuit breaker INFO, got:", output)
	}
}

func TestLogConfigWarnings_AllWarnings(t *testing.T) {
	// Worst case: the zero config
	output := captureLogOutput(&config.Config{})

	expected := []string{
		"WARNING [P0]: RECONCILE_ENABLED=false",
		"WARNING [P1]: METRICS_ENABLED=false",
		"INFO: LEADER_ELECTION_ENABLED=false",
		"INFO: CIRCUIT_BREAKER_THRESHOLD=0",
	}
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}
