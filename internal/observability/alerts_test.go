package observability

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

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

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestWorkflowAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "workflow.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	var workflowGroup *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "workflow" {
			workflowGroup = &spec.Groups[i]
			break
		}
	}
	if workflowGroup == nil {
		t.Fatal("workflow alert group missing")
	}

	expected := map[string]string{
		"HighErrorRate":       "critical",
		"HighLatency":         "warning",
		"GuardViolationSpike": "warning",
		"JobFailures":         "warning",
	}
	seen := map[string]bool{}
	for _, rule := range workflowGroup.Rules {
		severity, ok := expected[rule.Alert]
		if !ok {
			continue
		}
		seen[rule.Alert] = true
		if rule.Labels["severity"] != severity {
			t.Fatalf("alert %s: expected severity %s, got %s", rule.Alert, severity, rule.Labels["severity"])
		}
		if rule.Expr == "" {
			t.Fatalf("alert %s: expr required", rule.Alert)
		}
		if rule.Annotations["runbook"] == "" {
			t.Fatalf("alert %s: runbook annotation required", rule.Alert)
		}
	}
	for name := range expected {
		if !seen[name] {
			t.Fatalf("alert %s missing from workflow group", name)
		}
	}
}
