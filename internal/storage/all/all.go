// Package all links every storage backend into a binary.
package all

import (
	_ "joboffers/internal/storage/mssql"
	_ "joboffers/internal/storage/postgres"
	_ "joboffers/internal/storage/sqlite"
)
