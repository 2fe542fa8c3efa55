// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package edgeserver

import (
	"encoding/json"
	"net/http"

	"github.com/home-cms/home/internal/errkind"
)

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// writeEdgeError mirrors originserver's JSON error shape so every
// process's endpoints look the same on the wire.
func writeEdgeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := apiError{}
	body.Error.Message = message
	_ = json.NewEncoder(w).Encode(body)
}

func statusForErr(err error) int {
	return errkind.HTTPStatus(err)
}
