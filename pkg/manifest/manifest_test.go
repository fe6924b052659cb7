package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults(t *testing.T) {
	m := &Manifest{Version: "1.0", Target: "owner@datasite.org"}
	m.ApplyDefaults()

	assert.Equal(t, DefaultCodeDir, m.Code.Dir)
	assert.Equal(t, DefaultEntry, m.Code.Entry)

	set := &Manifest{
		Version: "1.0",
		Target:  "owner@datasite.org",
		Code:    CodeConfig{Dir: "analysis", Entry: "main.sh"},
	}
	set.ApplyDefaults()
	assert.Equal(t, "analysis", set.Code.Dir)
	assert.Equal(t, "main.sh", set.Code.Entry)
}

func TestResolveCodeDir(t *testing.T) {
	manifestPath := filepath.Join("/home/alice/project", "job.yaml")

	tests := []struct {
		name string
		dir  string
		want string
	}{
		{"default dot", ".", "/home/alice/project"},
		{"empty falls back to manifest dir", "", "/home/alice/project"},
		{"relative subdir", "analysis", "/home/alice/project/analysis"},
		{"relative parent", "../shared", "/home/alice/shared"},
		{"absolute used as-is", "/opt/code", "/opt/code"},
		{"absolute cleaned", "/opt//code/.", "/opt/code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Code: CodeConfig{Dir: tt.dir}}
			assert.Equal(t, tt.want, m.ResolveCodeDir(manifestPath))
		})
	}
}
