package node

import (
	"runtime"
	"testing"

	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/config"
)

func TestLocalNode_ReadsConfiguredAttributes(t *testing.T) {
	cfg, err := config.New()
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}

	n, err := localNode(cfg)
	if err != nil {
		t.Fatalf("localNode: %v", err)
	}

	if n.ID == uuid.Nil {
		t.Fatal("localNode produced a zero-value ID")
	}
	// config.New with no file/env/flags yields the compiled default
	// "SHARED" for node.deployment_mode.
	if n.Attributes.DeploymentMode().String() != "SHARED" {
		t.Errorf("DeploymentMode = %v, want SHARED", n.Attributes.DeploymentMode())
	}
	_, osArch, _ := n.Attributes.OS()
	if osArch != runtime.GOARCH {
		t.Errorf("OS arch = %q, want %q", osArch, runtime.GOARCH)
	}
}
