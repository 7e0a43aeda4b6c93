/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process. The service name lands on
// every event so server and device logs can be told apart when shipped
// to one place.
func Setup(environment, service string) zerolog.Logger {
	return SetupWithWriter(environment, service, nil)
}

// SetupWithWriter configures zerolog with an additional writer (e.g., a
// file on the device's SD card).
func SetupWithWriter(environment, service string, additionalWriter io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
	}

	// Console writer for human-readable output
	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stdout}
	if additionalWriter != nil {
		writer = zerolog.MultiLevelWriter(writer, additionalWriter)
	}

	logger := zerolog.New(writer).With().Timestamp().Str("service", service).Logger().Level(level)
	log.Logger = logger
	return logger
}
