package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.catalogue))
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the service routes plus
// one generate path per catalogue plugin.
func buildOpenAPIDoc(cat catalogue.Catalogue) map[string]any {
	paths := map[string]any{
		"/catalogue":            map[string]any{"get": operation("getCatalogue", "Block factory catalogue", "fable")},
		"/fable/validate":       map[string]any{"post": withBody(operation("validateFable", "Validate a fable and list possible expansions", "fable"))},
		"/fable/encode":         map[string]any{"post": withBody(operation("encodeFable", "Encode a fable as URL state", "fable"))},
		"/fable/decode":         map[string]any{"get": operation("decodeFable", "Decode URL state", "fable")},
		"/fables":               map[string]any{"get": operation("listFables", "List saved fables", "fable")},
		"/fable":                map[string]any{"post": withBody(operation("createFable", "Save a fable", "fable"))},
		"/fable/{fableID}":      map[string]any{"get": operation("getFable", "Get a saved fable", "fable"), "put": withBody(operation("updateFable", "Update a saved fable", "fable")), "delete": operation("deleteFable", "Delete a saved fable", "fable")},
		"/fable/{fableID}/link": map[string]any{"get": operation("linkFable", "Shareable builder link for a saved fable", "fable")},
		"/job":                  map[string]any{"post": withBody(operation("submitJob", "Submit a valid fable for execution", "jobs"))},
		"/job/{jobID}":          map[string]any{"get": operation("getJob", "Get a submitted job", "jobs")},
		"/jobs":                 map[string]any{"get": operation("listJobs", "List submitted jobs", "jobs")},
		"/events":               map[string]any{"get": operation("streamEvents", "Server-sent event stream", "events")},
	}

	for _, key := range sortedPluginKeys(cat) {
		pluginID, err := fable.ParsePluginID(key)
		if err != nil {
			continue
		}
		paths[fmt.Sprintf("/plugin/%s/%s/generate", pluginID.Store, pluginID.Local)] = map[string]any{
			"post": buildGenerateOperation(pluginID, cat[key]),
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Forecast-in-a-Box fable builder",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func operation(id, summary, tag string) map[string]any {
	return map[string]any{
		"operationId": id,
		"summary":     summary,
		"tags":        []string{tag},
		"responses": map[string]any{
			"200": map[string]any{"description": "OK"},
			"401": map[string]any{"description": "Missing or invalid token"},
			"403": map[string]any{"description": "Insufficient scope"},
		},
		"security": []any{map[string]any{"BearerAuth": []string{}}},
	}
}

func withBody(op map[string]any) map[string]any {
	op["requestBody"] = map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{"schema": map[string]any{"type": "object"}},
		},
	}
	return op
}

// buildGenerateOperation describes the starter pipeline of one plugin.
func buildGenerateOperation(pluginID fable.PluginID, plugin catalogue.Plugin) map[string]any {
	factories := make([]string, 0, len(plugin.Factories))
	for name := range plugin.Factories {
		factories = append(factories, name)
	}
	sort.Strings(factories)

	op := operation(
		fmt.Sprintf("%s__%s__generate", pluginID.Store, pluginID.Local),
		fmt.Sprintf("Starter pipeline for %s", pluginID),
		"plugin",
	)
	op["description"] = "Factories: " + strings.Join(factories, ", ")
	op["parameters"] = []any{map[string]any{
		"name":   "defaults",
		"in":     "query",
		"schema": map[string]any{"type": "boolean"},
	}}
	return op
}

func sortedPluginKeys(cat catalogue.Catalogue) []string {
	keys := make([]string, 0, len(cat))
	for k := range cat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
