//go:build e2e

// Package e2e runs the Gherkin acceptance suite against the fully wired
// router with in-memory backends and a fake clock.
package e2e

import (
	"github.com/cucumber/godog"

	"practicum/e2e/steps/attendance"
	"practicum/e2e/steps/common"
	"practicum/e2e/steps/meeting"
)

// RegisterSteps registers all step definitions from modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, w *common.World) {
	common.RegisterSteps(ctx, w)
	attendance.RegisterSteps(ctx, w)
	meeting.RegisterSteps(ctx, w)
}
