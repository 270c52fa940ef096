// Package config loads the evalgate YAML configuration, applies environment
// overrides, and validates that every safety-relevant setting is present.
package config
