package combivox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LoadCatalog downloads the programmed zones, areas, macros and commands
// and uses them to decode later status reads.
//
// The panel only fills in its label files after being asked to, so this
// takes a few seconds.
func (c *Client) LoadCatalog(ctx context.Context) (Catalog, error) {
	zones, areas, err := c.downloadProgState(ctx)
	if err != nil {
		return Catalog{}, fmt.Errorf("could not load catalog: %w", err)
	}
	cat := Catalog{Zones: zones, Areas: areas}

	cat.Macros, err = c.downloadMacros(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Catalog{}, fmt.Errorf("could not load catalog: %w", err)
		}
		c.log.Warn("could not load macros", "err", err)
	}
	cat.Commands, err = c.downloadCommands(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Catalog{}, fmt.Errorf("could not load catalog: %w", err)
		}
		c.log.Warn("could not load commands", "err", err)
	}

	c.log.Info(
		"loaded catalog",
		"zones", len(cat.Zones),
		"areas", len(cat.Areas),
		"macros", len(cat.Macros),
		"commands", len(cat.Commands),
	)
	c.SetCatalog(cat)
	return cat, nil
}

// ReloadCatalog downloads the catalog again and reports whether it changed.
// The previous catalog is kept when the download fails.
func (c *Client) ReloadCatalog(ctx context.Context) (Catalog, bool, error) {
	prev := c.Catalog()
	cat, err := c.LoadCatalog(ctx)
	if err != nil {
		c.SetCatalog(prev)
		return prev, false, err
	}
	return cat, !cat.Equal(prev), nil
}

// trigger asks the panel to populate one of its label files. Failures are
// only logged: the files might be populated already.
func (c *Client) trigger(ctx context.Context, path string) error {
	if _, err := c.fetch(ctx, get(path).withReferer(refererOutputs)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("could not trigger label population", "path", path, "err", err)
	}
	return sleep(ctx, 2*c.cfg.catalogDelay)
}

// attempts calls fn up to tries times, catalogDelay apart. The panel answers
// with errors while it populates its files, so any status is retried.
func (c *Client) attempts(ctx context.Context, tries int, what string, fn func() error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.catalogDelay), uint64(max(tries-1, 0))),
		ctx,
	)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && (ctx.Err() != nil || errors.Is(err, ErrAuthentication)) {
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, _ time.Duration) {
		c.log.Debug("download failed", "what", what, "attempt", attempt, "tries", tries, "err", err)
	})
}

func (c *Client) downloadProgState(ctx context.Context) (zones, areas []Label, err error) {
	if err := c.trigger(ctx, pathProgTrigger); err != nil {
		return nil, nil, err
	}
	err = c.attempts(ctx, c.cfg.catalogTries, "zones and areas", func() error {
		body, err := c.fetch(ctx, get(pathProgState))
		if err != nil {
			return err
		}
		zones, areas, err = parseProgState(c.log, body)
		if err != nil {
			return err
		}
		// the panel serves an empty file while it is still populating it
		if len(zones) == 0 && len(areas) == 0 {
			return ErrEmptyCatalog
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not download zones and areas: %w", err)
	}
	return zones, areas, nil
}

func (c *Client) downloadMacros(ctx context.Context) ([]Label, error) {
	ids, err := c.downloadIDs(ctx, pathMacroIDs)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return c.downloadLabels(ctx, ids, pathMacroLabels, refererMacros, "Macro")
}

func (c *Client) downloadCommands(ctx context.Context) ([]Label, error) {
	if err := c.trigger(ctx, pathCmdTrigger); err != nil {
		return nil, err
	}
	ids, err := c.downloadIDs(ctx, pathCommandIDs)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return c.downloadLabels(ctx, ids, pathCmdLabels, refererOutputs, "Command")
}

func (c *Client) downloadIDs(ctx context.Context, path string) ([]int, error) {
	body, err := c.fetch(ctx, get(path))
	if err != nil {
		return nil, fmt.Errorf("could not download %s: %w", path, err)
	}
	ids, err := ParseIDList(body)
	if err != nil {
		return nil, fmt.Errorf("could not download %s: %w", path, err)
	}
	return ids, nil
}

// downloadLabels falls back to numbered names when the labels can't be
// downloaded.
func (c *Client) downloadLabels(ctx context.Context, ids []int, path, referer, kind string) ([]Label, error) {
	var body []byte
	err := c.attempts(ctx, c.cfg.labelTries, path, func() (err error) {
		body, err = c.fetch(ctx, post(path, listPayload(ids)).withReferer(referer))
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("could not download labels, using numbers", "path", path, "err", err)
		return fallbackLabels(ids, nil, kind), nil
	}
	return parseIndexedLabels(c.log, body, ids, kind), nil
}
