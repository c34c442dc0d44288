/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

// Package cmdutil resolves server parameters from command line flags, falling
// back to environment variables.
package cmdutil

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// GetUserSetOptionalVarFromString returns the value of either the command line flag or
// the environment variable. Returns an empty string if neither is set.
func GetUserSetOptionalVarFromString(cmd *cobra.Command, flagName, envKey string) string {
	//nolint // the error will not happen for optional var
	v, _ := GetUserSetVarFromString(cmd, flagName, envKey, true)

	return v
}

// GetUserSetVarFromString returns the value of either the command line flag or the
// environment variable. The flag takes precedence.
func GetUserSetVarFromString(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		if value == "" {
			return "", fmt.Errorf("%s value is empty", flagName)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		if !isOptional && value == "" {
			return "", fmt.Errorf("%s value is empty", envKey)
		}

		return value, nil
	}

	return "", errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

// GetUserSetOptionalVarFromArrayString returns the values of either the command line
// flag or the environment variable. Returns nil if neither is set.
func GetUserSetOptionalVarFromArrayString(cmd *cobra.Command, flagName, envKey string) []string {
	//nolint // the error will not happen for optional var
	v, _ := GetUserSetVarFromArrayString(cmd, flagName, envKey, true)

	return v
}

// GetUserSetVarFromArrayString returns the values of either the command line flag or
// the environment variable. The flag takes precedence. An environment variable holds
// multiple values separated by commas.
func GetUserSetVarFromArrayString(cmd *cobra.Command, flagName, envKey string, isOptional bool) ([]string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetStringArray(flagName)
		if err != nil {
			return nil, fmt.Errorf(flagName+" flag not found: %s", err)
		}

		if len(value) == 0 {
			return nil, fmt.Errorf("%s value is empty", flagName)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		if !isOptional && value == "" {
			return nil, fmt.Errorf("%s value is empty", envKey)
		}

		if value == "" {
			return []string{}, nil
		}

		return strings.Split(value, ","), nil
	}

	return nil, errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

// GetBool returns the bool value of either the command line flag or the environment
// variable. Returns defaultValue if neither is set.
func GetBool(cmd *cobra.Command, flagName, envKey string, defaultValue bool) (bool, error) {
	str := GetUserSetOptionalVarFromString(cmd, flagName, envKey)
	if str == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s [%s]: %w", flagName, str, err)
	}

	return value, nil
}

// GetInt returns the int value of either the command line flag or the environment
// variable. Returns defaultValue if neither is set.
func GetInt(cmd *cobra.Command, flagName, envKey string, defaultValue int) (int, error) {
	str := GetUserSetOptionalVarFromString(cmd, flagName, envKey)
	if str == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s [%s]: %w", flagName, str, err)
	}

	return value, nil
}

// GetUInt64 returns the uint64 value of either the command line flag or the
// environment variable. Returns defaultValue if neither is set.
func GetUInt64(cmd *cobra.Command, flagName, envKey string, defaultValue uint64) (uint64, error) {
	str := GetUserSetOptionalVarFromString(cmd, flagName, envKey)
	if str == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s [%s]: %w", flagName, str, err)
	}

	return value, nil
}

// GetFloat returns the float64 value of either the command line flag or the
// environment variable. Returns defaultValue if neither is set.
func GetFloat(cmd *cobra.Command, flagName, envKey string, defaultValue float64) (float64, error) {
	str := GetUserSetOptionalVarFromString(cmd, flagName, envKey)
	if str == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s [%s]: %w", flagName, str, err)
	}

	return value, nil
}

// GetDuration returns the duration value of either the command line flag or the
// environment variable. Returns defaultValue if neither is set.
func GetDuration(cmd *cobra.Command, flagName, envKey string,
	defaultValue time.Duration) (time.Duration, error) {
	str := GetUserSetOptionalVarFromString(cmd, flagName, envKey)
	if str == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(str)
	if err != nil {
		return -1, fmt.Errorf("invalid value for %s [%s]: %w", flagName, str, err)
	}

	return value, nil
}
