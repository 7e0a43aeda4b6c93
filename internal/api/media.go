/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aerugo/bobavision/internal/library"
)

// ServeMedia streams a library file to the player. Filesystem-backed
// files support range requests so seeking works; other backends fall
// back to a plain streamed body.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "*")
	relPath, err := url.PathUnescape(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "bad media path")
		return
	}

	rc, err := h.library.Open(r.Context(), relPath)
	if err != nil {
		if errors.Is(err, library.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown media path")
			return
		}
		h.logger.Error().Err(err).Str("path", relPath).Msg("open media")
		writeError(w, http.StatusInternalServerError, codeInternalError, "media unavailable")
		return
	}
	defer rc.Close()

	name := path.Base(relPath)
	w.Header().Set("Content-Type", mediaContentType(name))

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, time.Time{}, rs)
		return
	}

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug().Err(err).Str("path", relPath).Msg("media stream aborted")
	}
}

// mediaContentType maps the scanner's video extensions to their types.
// The host mime table is consulted for anything else.
func mediaContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
