// Package config embeds the default service configuration.
package config

import _ "embed"

//go:embed conf.default.yaml
var Default []byte
