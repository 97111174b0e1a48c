package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/models"
)

var profileIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Validate checks the semantic rules the schema cannot express.
// An active_profile naming an unknown profile is not an error here; the
// engine reports it when the selection is attempted.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		if err := validateProfileID(p.ID); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("invalid profile id at index %d", i)).
				WithDetail("profile", p.ID)
		}
		if seen[p.ID] {
			return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("duplicate profile id '%s'", p.ID)).
				WithDetail("profile", p.ID)
		}
		seen[p.ID] = true

		if err := validateURL(p.URL); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("invalid url for profile '%s'", p.ID)).
				WithDetail("profile", p.ID)
		}
	}

	if c.Reconnect.Initial <= 0 || c.Reconnect.Max < c.Reconnect.Initial {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("reconnect: max (%s) must be at least initial (%s) and both positive",
				c.Reconnect.Max.Std(), c.Reconnect.Initial.Std()))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return errors.New(errors.ErrCodeConfigInvalid, "reconnect.jitter must be between 0 and 1")
	}
	if c.Stream.PollTimeout < Duration(time.Second) {
		return errors.New(errors.ErrCodeConfigInvalid, "stream.poll_timeout must be at least 1s")
	}

	switch models.PauseScope(c.Aggregate.PauseScope) {
	case models.PauseScopeAll, models.PauseScopeDevices:
	default:
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("aggregate.pause_scope must be 'all' or 'devices', got '%s'", c.Aggregate.PauseScope))
	}

	if c.Launcher.Enabled {
		if c.Launcher.Profile == "" {
			return errors.New(errors.ErrCodeConfigInvalid, "launcher.profile is required when the launcher is enabled")
		}
		if !seen[c.Launcher.Profile] {
			return errors.New(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("launcher.profile '%s' is not a configured profile", c.Launcher.Profile)).
				WithDetail("profile", c.Launcher.Profile)
		}
	}

	return nil
}

func validateProfileID(id string) error {
	if !profileIDRegex.MatchString(id) {
		return fmt.Errorf("profile id must start with a letter or digit and contain only letters, digits, '.', '_' or '-'")
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
