// Package api exposes the dashboard's data-access operations over HTTP: querying, data export,
// unique-value enumeration, selector resolution, CSV uploads and upload ledger administration.
package api

import (
	"fmt"
	"net/http"

	"hermannm.dev/dashboard/config"
	"hermannm.dev/dashboard/db"
)

type DashboardAPI struct {
	backend db.Backend
	router  *http.ServeMux
	config  config.Config
}

func NewDashboardAPI(
	backend db.Backend,
	router *http.ServeMux,
	config config.Config,
) DashboardAPI {
	api := DashboardAPI{backend: backend, router: router, config: config}

	api.router.HandleFunc("/query", api.Query)
	api.router.HandleFunc("/table-data", api.TableData)
	api.router.HandleFunc("/unique-values", api.UniqueValues)
	api.router.HandleFunc("/selectors", api.ResolveSelectors)

	api.router.HandleFunc("/sources", api.ListSources)
	api.router.HandleFunc("/source-columns", api.SourceColumns)

	api.router.HandleFunc("/deduce-schema", api.DeduceCSVTableSchema)
	api.router.HandleFunc("/upload-csv", api.UploadCSVData)

	api.router.HandleFunc("/uploads", api.ListUploads)
	api.router.HandleFunc("/uploads/active-status", api.UpdateUploadActiveStatus)
	api.router.HandleFunc("/uploads/remove-metadata", api.RemoveUploadMetadata)

	return api
}

func (api DashboardAPI) ListenAndServe() error {
	return http.ListenAndServe(fmt.Sprintf(":%s", api.config.API.Port), api.router)
}
