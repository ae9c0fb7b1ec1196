//go:build e2e

package common

import (
	"fmt"
	"time"

	"github.com/cucumber/godog"

	id "practicum/pkg/domain"
)

func RegisterSteps(ctx *godog.ScenarioContext, w *World) {
	ctx.Step(`^a tenant "([^"]*)"$`, func(alias string) error {
		w.Tenant(alias)
		return nil
	})
	ctx.Step(`^an? (student|supervisor|coordinator|admin) "([^"]*)" in tenant "([^"]*)"$`, func(role, alias, tenant string) error {
		return w.AddUser(alias, id.Role(role), tenant)
	})
	ctx.Step(`^the time is "([^"]*)"$`, func(ts string) error {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return err
		}
		w.Clock.Set(t)
		return nil
	})
	ctx.Step(`^(\d+) seconds? pass(?:es)?$`, func(n int) error {
		w.Clock.Advance(time.Duration(n) * time.Second)
		return nil
	})
	ctx.Step(`^the response status should be (\d+)$`, func(status int) error {
		if w.Status != status {
			return fmt.Errorf("expected status %d, got %d: %s", status, w.Status, string(w.Body))
		}
		return nil
	})
	ctx.Step(`^the error code should be "([^"]*)"$`, func(code string) error {
		var body struct {
			Error string `json:"error"`
		}
		if err := w.Decode(&body); err != nil {
			return err
		}
		if body.Error != code {
			return fmt.Errorf("expected error %q, got %q", code, body.Error)
		}
		return nil
	})
}
