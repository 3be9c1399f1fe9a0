package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet-cli/api/schemas"
	"github.com/xkilldash9x/lancet-cli/internal/config"
)

func testScanConfig(target, outputPath string) *config.Config {
	return &config.Config{
		Analysis: config.AnalysisConfig{
			MaxPropagationRounds: 10,
			Concurrency:          2,
			Extensions:           []string{".php"},
			ExcludeDirs:          []string{"vendor"},
		},
		Scan: config.ScanConfig{Target: target},
		Report: config.ReportConfig{
			Format:     "json",
			OutputPath: outputPath,
		},
	}
}

func TestRunScan_EndToEnd(t *testing.T) {
	target := t.TempDir()
	source := "<?php\n$host = $_SERVER['HTTP_HOST'];\nredirect($host);\n"
	require.NoError(t, os.WriteFile(filepath.Join(target, "index.php"), []byte(source), 0o644))

	outputPath := filepath.Join(t.TempDir(), "report.json")
	cfg := testScanConfig(target, outputPath)

	err := runScan(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	raw, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	var report struct {
		Tool  string                    `json:"tool"`
		Scans []*schemas.ResultEnvelope `json:"scans"`
	}
	require.NoError(t, json.Unmarshal(raw, &report))
	require.Len(t, report.Scans, 1)

	envelope := report.Scans[0]
	assert.NotEmpty(t, envelope.ScanID)
	assert.Equal(t, target, envelope.Summary.Target)
	assert.Equal(t, 1, envelope.Summary.FilesScanned)
	assert.Equal(t, 1, envelope.Summary.SourceCount)
	assert.Equal(t, 1, envelope.Summary.SinkCount)
	assert.Equal(t, "default", envelope.Summary.RulesetOrigin)

	var sawSink bool
	for _, f := range envelope.Findings {
		if f.VulnerabilityName == "Host Header Poisoning via redirect" {
			sawSink = true
			assert.Equal(t, schemas.SeverityHigh, f.Severity)
			assert.Equal(t, 3, f.Line)
		}
	}
	assert.True(t, sawSink, "the redirect flow must be reported")
}

func TestRunScan_FailOnThreshold(t *testing.T) {
	target := t.TempDir()
	source := "<?php\n$host = $_SERVER['HTTP_HOST'];\nredirect($host);\n"
	require.NoError(t, os.WriteFile(filepath.Join(target, "index.php"), []byte(source), 0o644))

	cfg := testScanConfig(target, filepath.Join(t.TempDir(), "report.json"))
	cfg.Scan.FailOn = "high"

	err := runScan(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `severity "high"`)
}

func TestRunScan_MissingTarget(t *testing.T) {
	cfg := testScanConfig(filepath.Join(t.TempDir(), "missing"), "")
	err := runScan(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery failed")
}

func TestLoadRuleSet(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		rules, origin, err := loadRuleSet("")
		require.NoError(t, err)
		assert.Equal(t, "default", origin)
		assert.NotEmpty(t, rules.Sources)
		assert.NotEmpty(t, rules.Sinks)
	})

	t.Run("custom file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := `
sources:
  - kind: request_host
    patterns: ["HTTP_HOST"]
sinks:
  - name: redirect
    patterns: ["redirect("]
sanitizers:
  - name: validation
    patterns: ["filter_var("]
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		rules, origin, err := loadRuleSet(path)
		require.NoError(t, err)
		assert.Equal(t, path, origin)
		require.Len(t, rules.Sources, 1)
		assert.Equal(t, "request_host", rules.Sources[0].Kind)
		require.Len(t, rules.Sinks, 1)
		assert.Equal(t, []string{"redirect("}, rules.Sinks[0].Patterns)
		require.Len(t, rules.Sanitizers, 1)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := loadRuleSet(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestCheckFailOn(t *testing.T) {
	high := schemas.Finding{Severity: schemas.SeverityHigh}
	medium := schemas.Finding{Severity: schemas.SeverityMedium}
	low := schemas.Finding{Severity: schemas.SeverityLow}

	cases := []struct {
		name     string
		failOn   string
		findings []schemas.Finding
		wantErr  bool
	}{
		{"disabled", "", []schemas.Finding{high}, false},
		{"high threshold met", "high", []schemas.Finding{high}, true},
		{"high threshold not met", "high", []schemas.Finding{medium, low}, false},
		{"medium counts high", "medium", []schemas.Finding{high}, true},
		{"low matches everything", "low", []schemas.Finding{low}, true},
		{"no findings", "high", nil, false},
		{"case insensitive", "HIGH", []schemas.Finding{high}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkFailOn(tc.failOn, tc.findings)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunScan_ReportsDuration(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "a.php"), []byte("<?php $x = 1;"), 0o644))

	outputPath := filepath.Join(t.TempDir(), "report.json")
	cfg := testScanConfig(target, outputPath)

	require.NoError(t, runScan(context.Background(), cfg, zap.NewNop()))

	raw, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	var report struct {
		Scans []struct {
			Summary struct {
				Duration time.Duration `json:"duration"`
			} `json:"summary"`
		} `json:"scans"`
	}
	require.NoError(t, json.Unmarshal(raw, &report))
	require.Len(t, report.Scans, 1)
	assert.GreaterOrEqual(t, report.Scans[0].Summary.Duration, time.Duration(0))
}
