/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

const alertsPath = "../../deploy/prometheus/alerts.yml"

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertConfig struct {
	Groups []alertGroup `yaml:"groups"`
}

func loadAlerts(t *testing.T) alertConfig {
	t.Helper()
	data, err := os.ReadFile(alertsPath)
	if err != nil {
		t.Skipf("alerts file not found at %s", alertsPath)
	}
	var cfg alertConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("invalid YAML in alerts.yml: %v", err)
	}
	if len(cfg.Groups) == 0 {
		t.Fatal("alerts.yml has no groups")
	}
	return cfg
}

func TestAlertLabels(t *testing.T) {
	cfg := loadAlerts(t)
	for _, group := range cfg.Groups {
		for _, rule := range group.Rules {
			if rule.Alert == "" {
				continue
			}
			if _, ok := rule.Labels["severity"]; !ok {
				t.Errorf("alert %q missing severity label", rule.Alert)
			}
			if _, ok := rule.Annotations["summary"]; !ok {
				t.Errorf("alert %q missing summary annotation", rule.Alert)
			}
		}
	}
}

var (
	metricRef = regexp.MustCompile(`shopfloor_[a-z_]+`)
	fqName    = regexp.MustCompile(`fqName: "([^"]+)"`)
)

func registeredMetricNames() map[string]bool {
	collectors := []prometheus.Collector{
		APIRequestDuration, APIRequestsTotal, APIActiveConnections, APIWebSocketConnections,
		DatabaseQueryDuration, DatabaseErrorsTotal, DatabaseConnectionsActive,
		SchedulerMutationsTotal, CapacityConflictsTotal, SlotTransitionsTotal,
		OrderWorkflowTransitionsTotal, DisplayNumbersIssuedTotal, SlotsOverdue,
		LeaderElectionStatus, LeaderElectionChanges,
	}

	names := make(map[string]bool)
	for _, c := range collectors {
		ch := make(chan *prometheus.Desc, 4)
		go func() {
			c.Describe(ch)
			close(ch)
		}()
		for desc := range ch {
			if m := fqName.FindStringSubmatch(desc.String()); m != nil {
				names[m[1]] = true
			}
		}
	}
	return names
}

func TestAlertMetricsAreExported(t *testing.T) {
	cfg := loadAlerts(t)
	known := registeredMetricNames()

	for _, group := range cfg.Groups {
		for _, rule := range group.Rules {
			for _, ref := range metricRef.FindAllString(rule.Expr, -1) {
				name := ref
				for _, suffix := range []string{"_bucket", "_sum", "_count"} {
					name = strings.TrimSuffix(name, suffix)
				}
				if !known[name] {
					t.Errorf("alert %q references unknown metric %s", rule.Alert, ref)
				}
			}
		}
	}
}
