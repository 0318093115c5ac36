// Package config loads the safetyctl client configuration.
//
// The file is optional: Load("") returns defaults, so safetyctl works against
// a local server with flags alone. Secrets are never stored inline; key_env
// names the environment variable that holds the API key.
package config
