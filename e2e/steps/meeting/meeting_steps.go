//go:build e2e

package meeting

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cucumber/godog"

	"practicum/e2e/steps/common"
)

func RegisterSteps(ctx *godog.ScenarioContext, w *common.World) {
	ctx.Step(`^"([^"]*)" schedules a (physical|remote) meeting "([^"]*)" between "([^"]*)" and "([^"]*)"$`,
		func(actor, typ, alias, partyA, partyB string) error {
			a, err := w.User(partyA)
			if err != nil {
				return err
			}
			b, err := w.User(partyB)
			if err != nil {
				return err
			}
			err = w.Do(actor, http.MethodPost, "/meetings", map[string]any{
				"party_a_id":   a.ID.String(),
				"party_b_id":   b.ID.String(),
				"type":         typ,
				"scheduled_at": w.Clock.Now().Add(48 * time.Hour).Format(time.RFC3339),
				"purpose":      alias,
			})
			if err != nil {
				return err
			}
			if w.Status != http.StatusCreated {
				return fmt.Errorf("create meeting failed with %d: %s", w.Status, string(w.Body))
			}
			var body struct {
				ID string `json:"id"`
			}
			if err := w.Decode(&body); err != nil {
				return err
			}
			w.Meetings[alias] = body.ID
			return nil
		})

	respond := func(actor, alias string, body map[string]any) error {
		meetingID, ok := w.Meetings[alias]
		if !ok {
			return fmt.Errorf("unknown meeting %q", alias)
		}
		return w.Do(actor, http.MethodPost, "/meetings/"+meetingID+"/responses", body)
	}

	ctx.Step(`^"([^"]*)" responds "([^"]*)" to meeting "([^"]*)"$`, func(actor, status, alias string) error {
		return respond(actor, alias, map[string]any{"status": status})
	})
	ctx.Step(`^"([^"]*)" declines meeting "([^"]*)" with note "([^"]*)"$`, func(actor, alias, note string) error {
		return respond(actor, alias, map[string]any{"status": "declined", "note": note})
	})
	ctx.Step(`^"([^"]*)" proposes to reschedule meeting "([^"]*)" to "([^"]*)"$`, func(actor, alias, ts string) error {
		return respond(actor, alias, map[string]any{"status": "rescheduling", "proposed_time": ts})
	})

	ctx.Step(`^"([^"]*)" views meeting "([^"]*)"$`, func(actor, alias string) error {
		return w.Do(actor, http.MethodGet, "/meetings/"+w.Meetings[alias], nil)
	})
	ctx.Step(`^"([^"]*)" cancels meeting "([^"]*)"$`, func(actor, alias string) error {
		return w.Do(actor, http.MethodPost, "/meetings/"+w.Meetings[alias]+"/cancel", nil)
	})

	ctx.Step(`^the meeting overall status should be "([^"]*)"$`, func(status string) error {
		var body struct {
			OverallStatus string `json:"overall_status"`
		}
		if err := w.Decode(&body); err != nil {
			return err
		}
		if body.OverallStatus != status {
			return fmt.Errorf("expected overall status %q, got %q", status, body.OverallStatus)
		}
		return nil
	})
}
