package repomanager

import (
	"alarmify/internal/dbx"
	"alarmify/internal/server/repositories/alarms"
	"alarmify/internal/server/repositories/devices"
	"alarmify/internal/server/repositories/refreshtokens"
	"alarmify/internal/server/repositories/synchistory"
	"alarmify/internal/server/repositories/users"
)

// PostgresManager builds the SQL repository implementations.
type PostgresManager struct{}

func NewPostgresManager() *PostgresManager {
	return &PostgresManager{}
}

func (m *PostgresManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

func (m *PostgresManager) Alarms(db dbx.DBTX) alarms.Repository {
	return alarms.NewPostgresRepository(db)
}

func (m *PostgresManager) Devices(db dbx.DBTX) devices.Repository {
	return devices.NewPostgresRepository(db)
}

func (m *PostgresManager) SyncHistory(db dbx.DBTX) synchistory.Repository {
	return synchistory.NewPostgresRepository(db)
}
