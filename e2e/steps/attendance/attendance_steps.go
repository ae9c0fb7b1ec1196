//go:build e2e

package attendance

import (
	"fmt"
	"net/http"

	"github.com/cucumber/godog"

	"practicum/e2e/steps/common"
)

func RegisterSteps(ctx *godog.ScenarioContext, w *common.World) {
	ctx.Step(`^"([^"]*)" requests an attendance token$`, func(actor string) error {
		if err := w.Do(actor, http.MethodPost, "/attendance/tokens", nil); err != nil {
			return err
		}
		if w.Status != http.StatusCreated {
			return nil
		}
		var body struct {
			Token string `json:"token"`
		}
		if err := w.Decode(&body); err != nil {
			return err
		}
		w.Tokens[actor] = body.Token
		return nil
	})

	ctx.Step(`^"([^"]*)" scans the token of "([^"]*)"$`, func(actor, subject string) error {
		raw, ok := w.Tokens[subject]
		if !ok {
			return fmt.Errorf("%s has no token", subject)
		}
		return w.Do(actor, http.MethodPost, "/attendance/scans", map[string]string{"token": raw})
	})

	ctx.Step(`^the scan result should be "([^"]*)"$`, func(result string) error {
		var body struct {
			Result string `json:"result"`
		}
		if err := w.Decode(&body); err != nil {
			return err
		}
		if body.Result != result {
			return fmt.Errorf("expected scan result %q, got %q", result, body.Result)
		}
		return nil
	})

	ctx.Step(`^"([^"]*)" sees "([^"]*)" as "([^"]*)"$`, func(actor, subject, status string) error {
		u, err := w.User(subject)
		if err != nil {
			return err
		}
		if err := w.Do(actor, http.MethodGet, "/attendance/subjects/"+u.ID.String()+"/presence", nil); err != nil {
			return err
		}
		if w.Status != http.StatusOK {
			return fmt.Errorf("presence lookup failed with %d: %s", w.Status, string(w.Body))
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := w.Decode(&body); err != nil {
			return err
		}
		if body.Status != status {
			return fmt.Errorf("expected %s to be %q, got %q", subject, status, body.Status)
		}
		return nil
	})
}
