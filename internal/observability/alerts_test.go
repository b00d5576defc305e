package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

var metricRef = regexp.MustCompile(`gateway_[a-z_]+`)

// exportedSeries lists every series name the gateway and worker expose.
var exportedSeries = map[string]bool{
	"gateway_http_requests_total":                  true,
	"gateway_http_request_duration_seconds_bucket": true,
	"gateway_decisions_total":                      true,
	"gateway_decision_duration_seconds_bucket":     true,
	"gateway_jobs_total":                           true,
	"gateway_job_duration_seconds_bucket":          true,
	"gateway_webhook_attempts_total":               true,
	"gateway_webhook_sweep_requeued_total":         true,
}

func loadGatewayRules(t *testing.T) []alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "gateway.yml"))
	require.NoError(t, err)

	var file alertFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	for _, group := range file.Groups {
		if group.Name == "gateway" {
			return group.Rules
		}
	}
	t.Fatal("gateway alert group missing")
	return nil
}

func TestGatewayAlertRules(t *testing.T) {
	expected := map[string]struct {
		severity string
		runbook  string
	}{
		"GatewayHighErrorRate":     {severity: "critical", runbook: "docs/runbook-gateway.md#high-error-rate"},
		"GatewayForbiddenSpike":    {severity: "warning", runbook: "docs/runbook-gateway.md#forbidden-spike"},
		"GatewayHighLatency":       {severity: "warning", runbook: "docs/runbook-gateway.md#high-latency"},
		"WebhookDeliveriesFailing": {severity: "warning", runbook: "docs/runbook-gateway.md#webhook-failures"},
	}

	rules := loadGatewayRules(t)
	require.Len(t, rules, len(expected))
	for _, rule := range rules {
		want, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		assert.Equal(t, want.severity, rule.Labels["severity"], rule.Alert)
		assert.Equal(t, want.runbook, rule.Annotations["runbook"], rule.Alert)
		assert.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		assert.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		assert.NotEmpty(t, rule.For, rule.Alert)
	}
}

func TestGatewayAlertRulesReferenceExportedSeries(t *testing.T) {
	for _, rule := range loadGatewayRules(t) {
		refs := metricRef.FindAllString(rule.Expr, -1)
		require.NotEmpty(t, refs, rule.Alert)
		for _, ref := range refs {
			assert.True(t, exportedSeries[ref], "%s references unknown series %s", rule.Alert, ref)
		}
	}
}
