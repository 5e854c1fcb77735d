// Package config loads the enhancement server configuration: a YAML file laid
// over Default(), then ENHANCER_* environment overrides, then Validate.
package config
