package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTMDB(); err != nil {
		return err
	}
	if err := c.validateEmby(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateEvaluation(); err != nil {
		return err
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTMDB() error {
	if c.TMDB.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("tmdb.api_key is required. Set TMDB_API_KEY env var or edit %s (create with 'curator config init')", defaultPath)
	}
	if c.TMDB.MaxPages > 50 {
		return errors.New("tmdb.max_pages must be at most 50")
	}
	return nil
}

func (c *Config) validateEmby() error {
	if !c.Emby.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Emby.URL) == "" {
		return errors.New("emby.url must be set when emby.enabled is true")
	}
	if strings.TrimSpace(c.Emby.APIKey) == "" {
		return errors.New("emby.api_key must be set when emby.enabled is true")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.Enabled && strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm.api_key must be set when llm.enabled is true (or set OPENROUTER_API_KEY)")
	}
	return nil
}

func (c *Config) validateEvaluation() error {
	if err := ensurePositiveMap(map[string]int{
		"evaluation.upstream_timeout_seconds": c.Evaluation.UpstreamTimeoutSeconds,
		"evaluation.presence_concurrency":     c.Evaluation.PresenceConcurrency,
		"evaluation.default_page_size":        c.Evaluation.DefaultPageSize,
		"evaluation.max_page_size":            c.Evaluation.MaxPageSize,
	}); err != nil {
		return err
	}
	if c.Evaluation.DefaultPageSize > c.Evaluation.MaxPageSize {
		return errors.New("evaluation.default_page_size must not exceed evaluation.max_page_size")
	}
	return nil
}

func (c *Config) validateLedger() error {
	if err := ensurePositiveMap(map[string]int{
		"ledger.release_check_interval_minutes": c.Ledger.ReleaseCheckIntervalMinutes,
		"ledger.batch_max_size":                 c.Ledger.BatchMaxSize,
		"ledger.batch_concurrency":              c.Ledger.BatchConcurrency,
	}); err != nil {
		return err
	}
	if c.Ledger.ReleaseCheckIntervalMinutes > maxReleaseCheckIntervalMinutes {
		return fmt.Errorf("ledger.release_check_interval_minutes must be at most %d (once per day)", maxReleaseCheckIntervalMinutes)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
