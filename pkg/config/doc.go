// Package config loads billing service configuration from environment
// variables (BILLING_* prefix) with validated defaults.
package config
