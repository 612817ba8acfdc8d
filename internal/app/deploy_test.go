package app_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/app"
	"github.com/otterscale/gridnode/internal/core"
)

func TestDeployUseCase_DeployResolveUndeploy(t *testing.T) {
	store := core.NewDeploymentStore("1.0", nil, nil, nil)
	uc := app.NewDeployUseCase(store)

	loaderID := uuid.New()
	view, err := uc.Deploy(loaderID, "com.example.Job", "job", core.DeploymentModeShared, false)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !view.Alive {
		t.Fatal("Deploy() returned a view that is not alive")
	}

	resolved, err := uc.Resolve("job", false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.ClassLoaderID != loaderID {
		t.Fatalf("Resolve().ClassLoaderID = %v, want %v", resolved.ClassLoaderID, loaderID)
	}

	uc.Undeploy(loaderID)
	if _, err := uc.Resolve("job", false); err == nil {
		t.Fatal("Resolve after Undeploy: want error, got nil")
	}
}

func TestDeployUseCase_ResolveUnknownAlias(t *testing.T) {
	uc := app.NewDeployUseCase(core.NewDeploymentStore("1.0", nil, nil, nil))
	if _, err := uc.Resolve("missing", false); err == nil {
		t.Fatal("Resolve(missing): want error, got nil")
	}
}
