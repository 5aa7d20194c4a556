// Package config loads the site settings shared by vitals-probe and the
// ingest daemon from the environment and an optional config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultSiteURL     = "http://localhost:3000"
	DefaultEnvironment = "development"
)

// Site describes the environment of the measured site.
type Site struct {
	URL                 string
	Environment         string
	Production          bool
	EnableInDevelopment bool
	EnableCoreWebVitals bool
	MeasurementID       string
	APISecret           string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site_url", DefaultSiteURL)
	v.SetDefault("environment", DefaultEnvironment)
	v.SetDefault("enable_in_development", false)
	v.SetDefault("enable_core_web_vitals", true)
	v.SetDefault("ga_measurement_id", "")
	v.SetDefault("ga_api_secret", "")
}

func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"site_url":               {"SITE_URL"},
		"environment":            {"APP_ENV", "NODE_ENV"},
		"enable_in_development":  {"VITALS_ENABLE_IN_DEVELOPMENT"},
		"enable_core_web_vitals": {"VITALS_ENABLE_CORE_WEB_VITALS"},
		"ga_measurement_id":      {"GA_MEASUREMENT_ID"},
		"ga_api_secret":          {"GA_API_SECRET"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the site settings. Environment variables override values
// from the file at path, which may be empty.
func Load(path string) (*Site, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	env := strings.ToLower(strings.TrimSpace(v.GetString("environment")))
	site := &Site{
		URL:                 strings.TrimRight(v.GetString("site_url"), "/"),
		Environment:         env,
		Production:          env == "production",
		EnableInDevelopment: v.GetBool("enable_in_development"),
		EnableCoreWebVitals: v.GetBool("enable_core_web_vitals"),
		MeasurementID:       v.GetString("ga_measurement_id"),
		APISecret:           v.GetString("ga_api_secret"),
	}
	return site, nil
}

// Enabled reports whether analytics should run in this environment.
func (s *Site) Enabled() bool {
	return s.Production || s.EnableInDevelopment
}
