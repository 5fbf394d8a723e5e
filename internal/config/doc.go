// Package config loads and validates the load balancer's configuration
// from a YAML file, environment variables, and built-in defaults, via
// github.com/spf13/viper, and validates the result via
// github.com/go-ozzo/ozzo-validation/v4.
package config
