package checker

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/tplcheck/pkg/loader"
	"github.com/openfroyo/tplcheck/pkg/telemetry"
)

// LoadSet builds a registry set from paths inside a registry.load span.
func LoadSet(ctx context.Context, l *loader.Loader, paths []string) (*loader.Set, error) {
	ic := telemetry.StartOperation(ctx, "registry.load", attribute.StringSlice("registry.paths", paths))
	set, err := l.LoadRegistries(ic.Ctx, paths)
	ic.End(err)
	return set, err
}

// Reload rebuilds the registry set and the policies from the sources given
// with WithSources. On failure the current set and policies stay in use.
func (c *Checker) Reload(ctx context.Context) error {
	if c.loader == nil {
		return fmt.Errorf("checker has no sources to reload")
	}

	set, err := LoadSet(ctx, c.loader, c.typePaths)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordLoadError("types")
		}
		c.logger.Error().Err(err).Msg("Keeping previous registry set")
		return fmt.Errorf("failed to reload types: %w", err)
	}

	if c.policy != nil {
		if err := c.policy.ReloadPolicies(ctx, c.policyPaths); err != nil {
			if c.metrics != nil {
				c.metrics.RecordLoadError("policy")
			}
			c.logger.Error().Err(err).Msg("Keeping previous policies")
			return fmt.Errorf("failed to reload policies: %w", err)
		}
	}

	if err := c.Swap(set); err != nil {
		return err
	}
	c.logger.Info().
		Int("types", set.Len()).
		Msg("Sources reloaded")
	return nil
}
