package cli

import (
	"timecapsule/internal/app"
	"timecapsule/internal/repository"
	"timecapsule/internal/service"
)

func newCoordinatorWithRemote(a *app.App, remote repository.ResponseRepository) *service.SyncCoordinator {
	return service.NewSyncCoordinator(a.Local, remote, a.Identity, nil, a.Config.Remote.Timeout, a.Logger)
}
