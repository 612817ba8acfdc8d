package app

import (
	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
)

// DeploymentView is the external projection of core.Deployment.
type DeploymentView struct {
	ClassLoaderID    uuid.UUID
	UserVersion      string
	PrimaryClassName string
	Mode             core.DeploymentMode
	Alive            bool
	Keys             []core.DeploymentKey
}

// DeployUseCase exposes the Local Deployment Store to external
// callers, projecting deployments into DeploymentView; the store's
// errors are returned unchanged.
type DeployUseCase struct {
	store *core.DeploymentStore
}

// NewDeployUseCase returns a DeployUseCase backed by store.
func NewDeployUseCase(store *core.DeploymentStore) *DeployUseCase {
	return &DeployUseCase{store: store}
}

// Resolve looks up the deployment registered under alias, auto-
// deploying through the configured ClassSource if necessary.
func (u *DeployUseCase) Resolve(alias string, isPeerLoader bool) (DeploymentView, error) {
	dep, err := u.store.GetDeployment(alias, isPeerLoader)
	if err != nil {
		return DeploymentView{}, err
	}
	return toDeploymentView(dep), nil
}

// Deploy explicitly registers className under loaderID/alias.
func (u *DeployUseCase) Deploy(loaderID uuid.UUID, className, alias string, mode core.DeploymentMode, isTask bool) (DeploymentView, error) {
	dep, err := u.store.Deploy(core.SegmentationIgnoredModeAlias(mode), loaderID, className, alias, isTask, true)
	if err != nil {
		return DeploymentView{}, err
	}
	return toDeploymentView(dep), nil
}

// Undeploy removes every Deployment registered under loaderID.
func (u *DeployUseCase) Undeploy(loaderID uuid.UUID) {
	u.store.Undeploy(loaderID)
}

func toDeploymentView(dep *core.Deployment) DeploymentView {
	return DeploymentView{
		ClassLoaderID:    dep.ClassLoaderID,
		UserVersion:      dep.UserVersion,
		PrimaryClassName: dep.PrimaryClassName,
		Mode:             dep.Mode,
		Alive:            dep.Alive(),
		Keys:             dep.Keys(),
	}
}
