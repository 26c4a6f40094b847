//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/calendarhub/intake/internal/app"
	"github.com/calendarhub/intake/internal/service"
)

func InitializeApp() (*app.App, error) {
	panic(wire.Build(
		ConfigSet,
		ObservabilitySet,
		RuntimeInfraSet,
		RepositorySet,
		SecuritySet,
		ServiceSet,
		HTTPSet,
		AppSet,
	))
}

func InitializeMigrationRunner() (*MigrationRunner, error) {
	panic(wire.Build(
		ConfigSet,
		provideOpenDB,
		NewMigrationRunner,
	))
}

func InitializeNewsletterTools() (*NewsletterTools, error) {
	panic(wire.Build(
		ConfigSet,
		provideLogger,
		provideAWSConfig,
		SecuritySet,
		service.NewValidator,
		provideEmailService,
		provideNewsletterService,
		NewNewsletterTools,
	))
}
