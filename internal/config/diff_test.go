package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/aurist/internal/config"
)

func loadDiffConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader error: %v", err)
	}
	return cfg
}

const diffBaseYAML = `
server:
  listen_addr: ":8080"
  log_level: info
auth:
  clients:
    - name: desk
      token: alpha
model:
  mode: whisper
  path: base.bin
segmentation:
  post_speech_silence: 600ms
`

func TestDiffNoChange(t *testing.T) {
	old := loadDiffConfig(t, diffBaseYAML)
	new := loadDiffConfig(t, diffBaseYAML)

	d := config.Diff(old, new)
	if d.Changed() {
		t.Errorf("Diff of identical configs = %+v, want no change", d)
	}
}

func TestDiffLogLevel(t *testing.T) {
	old := loadDiffConfig(t, diffBaseYAML)
	new := loadDiffConfig(t, strings.Replace(diffBaseYAML, "log_level: info", "log_level: debug", 1))

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("Diff = %+v, want log level change to debug", d)
	}
	if d.RestartRequired {
		t.Error("log level change should not require restart")
	}
}

func TestDiffAuthClients(t *testing.T) {
	old := loadDiffConfig(t, diffBaseYAML)
	new := loadDiffConfig(t, strings.Replace(diffBaseYAML, "token: alpha", "token: rotated", 1))

	d := config.Diff(old, new)
	if !d.AuthChanged {
		t.Errorf("Diff = %+v, want auth change", d)
	}
	if d.RestartRequired {
		t.Error("credential rotation should not require restart")
	}
}

func TestDiffSegmentation(t *testing.T) {
	old := loadDiffConfig(t, diffBaseYAML)
	new := loadDiffConfig(t, strings.Replace(diffBaseYAML, "post_speech_silence: 600ms", "post_speech_silence: 900ms", 1))

	d := config.Diff(old, new)
	if !d.SegmentationChanged {
		t.Errorf("Diff = %+v, want segmentation change", d)
	}
	if d.RestartRequired {
		t.Error("segmentation tuning should not require restart")
	}
}

func TestDiffModelRequiresRestart(t *testing.T) {
	old := loadDiffConfig(t, diffBaseYAML)
	new := loadDiffConfig(t, strings.Replace(diffBaseYAML, "path: base.bin", "path: large.bin", 1))

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Errorf("Diff = %+v, want restart required for model change", d)
	}
}

func TestDiffListenAddrRequiresRestart(t *testing.T) {
	old := loadDiffConfig(t, diffBaseYAML)
	new := loadDiffConfig(t, strings.Replace(diffBaseYAML, `listen_addr: ":8080"`, `listen_addr: ":9000"`, 1))

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Errorf("Diff = %+v, want restart required for listen addr change", d)
	}
}
