/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package presentation

import "embed"

//go:embed all:templates
var TemplateFS embed.FS

//go:embed all:static
var StaticFS embed.FS
