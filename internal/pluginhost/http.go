// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginhost

import (
	"encoding/json"
	"errors"
	"net/http"
)

// reloadResponse is the body of a successful POST /reload.
type reloadResponse struct {
	Plugins []pluginSummary `json:"plugins"`
}

type pluginSummary struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Path       string `json:"path"`
	Generation string `json:"generation"`
}

// ReloadHandler serves POST requests by calling TryReload. A concurrent
// reload answers 409 Conflict, a closed host 503, and a discovery failure 500.
func ReloadHandler(h *Host) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := h.TryReload(r.Context()); err != nil {
			switch {
			case errors.Is(err, ErrReloadInProgress):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.Is(err, ErrHostClosed):
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}

		resp := reloadResponse{Plugins: []pluginSummary{}}
		for _, lp := range h.GetAll() {
			resp.Plugins = append(resp.Plugins, pluginSummary{
				Name:       lp.Manifest.Name,
				Version:    lp.Manifest.Version,
				Path:       lp.Path,
				Generation: lp.Generation.String(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // client may disconnect
		json.NewEncoder(w).Encode(resp)
	})
}
