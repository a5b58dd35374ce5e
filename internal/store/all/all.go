// Package all registers every store backend with the factory. Blank
// importing it from a main package makes each backend selectable by
// config without the main knowing any of them.
package all

import (
	// The mssql backend expects the application to register the
	// "sqlserver" driver; doing it here keeps the backend itself
	// driver-agnostic.
	_ "github.com/microsoft/go-mssqldb"

	_ "thermoclean/internal/store/mssql"
	_ "thermoclean/internal/store/postgres"
	_ "thermoclean/internal/store/sqlite"
)
