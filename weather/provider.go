package weather

import (
	"context"
	"fmt"

	"github.com/capwire/capwire/capability"
)

const (
	defaultForecastDays = 3
	maxForecastDays     = 3
)

type currentArgs struct {
	City string `json:"city" jsonschema:"description=City name to get weather for"`
}

type forecastArgs struct {
	City string `json:"city" jsonschema:"description=City name to get forecast for"`
	Days int    `json:"days,omitempty" jsonschema:"description=Number of forecast days (1-3)"`
}

// NewProvider registers the weather capabilities on a static provider.
func NewProvider(c *Client) *capability.StaticProvider {
	current := capability.New("get_current_weather",
		func(ctx context.Context, args currentArgs) ([]capability.ContentBlock, error) {
			if args.City == "" {
				return nil, fmt.Errorf("city is required")
			}
			report, err := c.Lookup(ctx, args.City)
			if err != nil {
				return nil, err
			}
			text, err := FormatCurrent(args.City, report)
			if err != nil {
				return nil, err
			}
			return capability.Text("%s", text), nil
		},
		capability.WithDescription("Get current weather conditions for a city"),
		capability.WithValidation(),
	)

	forecast := capability.New("get_forecast",
		func(ctx context.Context, args forecastArgs) ([]capability.ContentBlock, error) {
			if args.City == "" {
				return nil, fmt.Errorf("city is required")
			}
			days := args.Days
			if days <= 0 {
				days = defaultForecastDays
			}
			if days > maxForecastDays {
				days = maxForecastDays
			}
			report, err := c.Lookup(ctx, args.City)
			if err != nil {
				return nil, err
			}
			text, err := FormatForecast(args.City, days, report)
			if err != nil {
				return nil, err
			}
			return capability.Text("%s", text), nil
		},
		capability.WithDescription("Get a multi-day weather forecast for a city"),
		capability.WithValidation(),
	)

	return capability.NewStaticProvider(current, forecast)
}
