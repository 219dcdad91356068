// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// KUZZLE_* variables override individual fields after the file is loaded (see ApplyEnv).
package config
