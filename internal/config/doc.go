// Package config defines the deploy settings and provides helpers to load,
// validate and save them in YAML format.
//
// Validate fills in the path conventions of a symlink-swap deploy (deploy
// root, init script location, archive contents, retention) so that a
// settings file only needs the host, user, service and binary.
package config
