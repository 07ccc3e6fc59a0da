// Package handlers provides example landingHandler and condition
// callables that a host can register with a callables.Registry. They
// adapt the pack's weather and email clients (pkg/clients/weather,
// pkg/clients/email) to the Handler/Condition signatures the runner
// invokes, reading the document's coordinates/contact fields through
// wfdoc.DataDocument the same way the built-in CEL adapter does.
package handlers

import (
	"context"
	"fmt"

	"github.com/caseflow/engine/pkg/clients/email"
	"github.com/caseflow/engine/pkg/clients/weather"
	"github.com/caseflow/engine/pkg/wfdoc"
	"github.com/caseflow/engine/services/callables"
)

func fields(doc wfdoc.Document) map[string]any {
	dd, ok := doc.(wfdoc.DataDocument)
	if !ok {
		return map[string]any{}
	}
	return dd.Data()
}

func floatField(data map[string]any, key string) (float64, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func stringField(data map[string]any, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// RegisterWeatherCheck registers a Condition under path that fetches the
// current temperature for the document's "lat"/"lon" fields and reports
// whether it is at or below thresholdCelsius.
func RegisterWeatherCheck(registry *callables.Registry, path string, thresholdCelsius float64) {
	registerWeatherCheck(registry, path, thresholdCelsius, weather.NewOpenMeteoClient(nil))
}

func registerWeatherCheck(registry *callables.Registry, path string, thresholdCelsius float64, client weather.Client) {
	registry.RegisterCondition(path, func(ctx context.Context, doc wfdoc.Document, _ wfdoc.User) (bool, error) {
		data := fields(doc)
		lat, ok := floatField(data, "lat")
		if !ok {
			return false, fmt.Errorf("document missing numeric %q field", "lat")
		}
		lon, ok := floatField(data, "lon")
		if !ok {
			return false, fmt.Errorf("document missing numeric %q field", "lon")
		}
		temp, err := client.GetTemperature(ctx, lat, lon)
		if err != nil {
			return false, err
		}
		return temp <= thresholdCelsius, nil
	})
}

// RegisterEmailNotice registers a Handler under path that emails the
// document's "contactEmail" field a fixed notice from fromAddress.
func RegisterEmailNotice(registry *callables.Registry, path, fromAddress string) {
	registerEmailNotice(registry, path, fromAddress, email.NewStubClient(fromAddress))
}

func registerEmailNotice(registry *callables.Registry, path, fromAddress string, client email.Client) {
	registry.RegisterHandler(path, func(ctx context.Context, doc wfdoc.Document, _ wfdoc.User) error {
		data := fields(doc)
		to, ok := stringField(data, "contactEmail")
		if !ok {
			return fmt.Errorf("document missing string %q field", "contactEmail")
		}
		_, err := client.Send(ctx, email.Message{
			To:      to,
			From:    fromAddress,
			Subject: fmt.Sprintf("Workflow update: %s", doc.Type()),
			Body:    fmt.Sprintf("Your application %s has moved forward in the review process.", doc.ID()),
		})
		return err
	})
}
