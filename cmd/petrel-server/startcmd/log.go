/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"strings"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
)

const (
	// LogLevelFlagName is the flag name used for setting the default log level.
	LogLevelFlagName = "log-level"
	// LogLevelEnvKey is the env var name used for setting the default log level.
	LogLevelEnvKey = "LOG_LEVEL"
	// LogLevelFlagShorthand is the shorthand flag name used for setting the default log level.
	LogLevelFlagShorthand = "l"
	// LogLevelFlagUsage is the usage text for the log level flag.
	LogLevelFlagUsage = "Sets the logging level. Supported levels are: error, warn, info, debug, " +
		"verbose, access. Alternatively, levels may be set for individual modules with a spec of the " +
		"format: module1=level1:module2=level2:defaultLevel, e.g. nodeinfo=warn:activitypub_store=info:debug. " +
		"Defaults to info if not set. Setting to debug may adversely impact performance. " +
		commonEnvVarUsageText + LogLevelEnvKey
)

const logSpecErrorMsg = `Invalid log spec. It needs to be a single level or a spec in the following ` +
	`format: "ModuleName1=Level1:ModuleName2=Level2:ModuleNameN=LevelN:AllOtherModuleDefaultLevel"
Valid log levels: error, warn, info, debug, verbose, access
Error: %s`

// setLogLevels sets the log levels for individual modules as well as the default level.
// The verbose and access levels, which this server does not distinguish from debug and
// info, are mapped to their zap equivalents.
func setLogLevels(logger *log.Log, logSpec string) {
	if err := log.SetSpec(normalizeLogSpec(logSpec)); err != nil {
		logger.Warn(logSpecErrorMsg, log.WithError(err))

		log.SetDefaultLevel(log.INFO)
	} else {
		logger.Info("Successfully set log levels", logfields.WithLogSpec(log.GetSpec()))
	}
}

func normalizeLogSpec(logSpec string) string {
	parts := strings.Split(logSpec, ":")

	for i, part := range parts {
		module, level, hasModule := strings.Cut(part, "=")
		if hasModule {
			parts[i] = module + "=" + normalizeLogLevel(level)
		} else {
			parts[i] = normalizeLogLevel(module)
		}
	}

	return strings.Join(parts, ":")
}

func normalizeLogLevel(level string) string {
	switch strings.ToLower(level) {
	case "verbose":
		return "debug"
	case "access":
		return "info"
	default:
		return level
	}
}
